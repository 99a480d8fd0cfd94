package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"signally/channel"
	"signally/fault"
	"signally/supervisor"

	"github.com/spf13/cobra"
)

func newChannelCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage channels and their encoders",
	}
	cmd.AddCommand(
		newChannelListCmd(e),
		newChannelAddCmd(e),
		newChannelStartCmd(e),
		newChannelStopCmd(e),
		newChannelStatusCmd(e),
		newChannelDeleteCmd(e),
		newChannelRecoverCmd(e),
	)
	return cmd
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fault.New(fault.InvalidArgument, "invalid channel id %q", arg)
	}
	return id, nil
}

func newChannelListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			channels, err := e.app.Registry.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			return writeChannels(cmd.OutOrStdout(), channels)
		},
	}
}

func writeChannels(out io.Writer, channels []*channel.Channel) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tITEMS\tROTATION\tREPEAT\tSTATE\tPID")
	for _, ch := range channels {
		state, pid := "idle", "-"
		if ch.Transmitting {
			state = "live"
			if ch.Transmission != nil {
				pid = strconv.Itoa(ch.Transmission.Pid)
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\t%s\n",
			ch.ID, ch.Name, len(ch.Content), ch.Rotation, ch.RepeatMode, state, pid)
	}
	return tw.Flush()
}

func newChannelAddCmd(e *env) *cobra.Command {
	var (
		ch     channel.Channel
		repeat string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a channel",
		Example: `  signally channel add --name "Movie Night" --content intro.mov --content poster.jpg
  signally channel add --name Loop --content clip.mp4 --rotation 90 --repeat once`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ch.RepeatMode = channel.RepeatMode(strings.ToLower(repeat))
			if err := ch.Validate(); err != nil {
				return err
			}
			if err := e.app.Registry.Save(cmd.Context(), &ch); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "channel %d created\n", ch.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&ch.Name, "name", "", "display name")
	cmd.Flags().StringArrayVar(&ch.Content, "content", nil, "library item, repeatable; played in order")
	cmd.Flags().IntVar(&ch.Rotation, "rotation", 0, "clockwise rotation in degrees (0, 90, 180, 270)")
	cmd.Flags().StringVar(&repeat, "repeat", string(channel.RepeatLoop), "repeat mode (loop, once)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newChannelStartCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "start ID",
		Short: "Start pushing a channel to the ingest",
		Long: `Launch the channel's encoder. The encoder runs in its own process
group and keeps running after this command returns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ch, err := e.app.Supervisor.Start(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "channel %d transmitting (pid %d)\n", ch.ID, ch.Transmission.Pid)
			return nil
		},
	}
}

func newChannelStopCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stop ID",
		Short: "Stop a channel's encoder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := e.app.Supervisor.Stop(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "channel %d stopped\n", id)
			return nil
		},
	}
}

func newChannelStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Show whether a channel's encoder is alive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			h, err := e.app.Supervisor.Health(cmd.Context(), id)
			if err != nil {
				return err
			}
			writeHealth(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

func writeHealth(out io.Writer, h supervisor.Health) {
	fmt.Fprintf(out, "channel:      %d\n", h.ChannelID)
	fmt.Fprintf(out, "transmitting: %t\n", h.Transmitting)
	if h.Pid == 0 {
		return
	}
	fmt.Fprintf(out, "pid:          %d\n", h.Pid)
	fmt.Fprintf(out, "alive:        %t\n", h.Alive)
	if h.Alive {
		fmt.Fprintf(out, "uptime:       %s\n", h.Uptime)
		if len(h.Children) > 0 {
			fmt.Fprintf(out, "children:     %v\n", h.Children)
		}
	}
}

func newChannelDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a channel that is not transmitting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := e.app.Supervisor.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "channel %d deleted\n", id)
			return nil
		},
	}
}

func newChannelRecoverCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Clear transmissions whose encoder is gone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := e.app.Supervisor.Recover(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%d channel(s) cleared\n", n)
			return err
		},
	}
}
