package cli

import (
	"fmt"
	"io"
	"time"

	"signally/fault"
	"signally/ffmpeg"
	"signally/task"

	"github.com/spf13/cobra"
)

const pollInterval = 500 * time.Millisecond

func newTranscodeCmd(e *env) *cobra.Command {
	var (
		output string
		opts   ffmpeg.TranscodeOptions
	)
	cmd := &cobra.Command{
		Use:   "transcode FILE",
		Short: "Transcode one file and follow its progress",
		Long: `Queue FILE for transcoding and print progress until the task ends.
The rendition goes to the library's transcoded directory unless --output is
given. Interrupting cancels the task and discards the partial output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			tasks := e.app.Tasks
			tasks.Start(ctx)
			id, err := tasks.Submit(task.Request{InputPath: args[0], OutputPath: output, Options: opts})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s queued\n", id)
			t, err := follow(tasks, id, out, ctx.Done())
			stop()
			tasks.Wait()
			if err != nil {
				return err
			}
			if t.Status == task.StatusFailed {
				return fault.New(t.ErrorKind, "%s failed: %s", id, t.Error)
			}
			fmt.Fprintf(out, "%s completed: %s (%d bytes)\n", id, t.OutputPath, t.OutputSize)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default is the library rendition path)")
	cmd.Flags().StringVar(&opts.Preset, "preset", "", "x264 preset (default medium)")
	cmd.Flags().IntVar(&opts.CRF, "crf", 0, "constant rate factor (default 20)")
	return cmd
}

// follow polls the task until it is terminal, printing each progress change.
// When interrupted is closed the task is cancelled and followed to its end.
func follow(tasks *task.Manager, id string, out io.Writer, interrupted <-chan struct{}) (task.Task, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := -1
	for {
		t, err := tasks.Status(id)
		if err != nil {
			return t, err
		}
		if t.Status == task.StatusActive && t.Progress != last {
			last = t.Progress
			if t.Speed != "" {
				fmt.Fprintf(out, "%s %3d%% (%s)\n", id, t.Progress, t.Speed)
			} else {
				fmt.Fprintf(out, "%s %3d%%\n", id, t.Progress)
			}
		}
		if t.Status.Terminal() {
			return t, nil
		}

		select {
		case <-interrupted:
			interrupted = nil
			_ = tasks.Cancel(id)
		case <-ticker.C:
		}
	}
}
