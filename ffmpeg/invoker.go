package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"signally/fault"

	"golang.org/x/sys/unix"
)

const defaultKillAfter = 5 * time.Second

// Invoker launches encoder subprocesses. Every child runs in its own process
// group with stdin bound to the null device.
type Invoker struct {
	bin       string
	logger    *slog.Logger
	tailBytes int
	// KillAfter bounds how long Run waits after SIGTERM before escalating.
	KillAfter time.Duration
}

func NewInvoker(bin string, tailBytes int, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{bin: bin, logger: logger, tailBytes: tailBytes, KillAfter: defaultKillAfter}
}

// LaunchOptions tune a single Launch call.
type LaunchOptions struct {
	// Grace is the post-launch window after which the child is polled once.
	// Exiting inside it is reported as a launch failure. Zero skips the check.
	Grace time.Duration
}

// Handle is a running (or finished) encoder process.
type Handle struct {
	Pid       int
	Pgid      int // 0 when the group could not be queried
	StartedAt time.Time
	Command   []string

	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
	waitErr  error
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the process exits and returns its exit code, or -1 when
// it was terminated by a signal.
func (h *Handle) Wait() int {
	<-h.done
	return h.exitCode
}

// Terminate asks the process group (or the pid alone) to stop.
func (h *Handle) Terminate() error { return h.signal(unix.SIGTERM) }

// Kill forcefully stops the process group (or the pid alone).
func (h *Handle) Kill() error { return h.signal(unix.SIGKILL) }

func (h *Handle) signal(sig unix.Signal) error {
	if !h.IsAlive() {
		return nil
	}
	target := h.Pid
	if h.Pgid > 0 {
		target = -h.Pgid
	}
	err := unix.Kill(target, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Launch starts the encoder with args. Output goes to the given sinks; a nil
// sink discards. When a sink is an *os.File it is handed to the child
// directly, so the encoder keeps writing to it after this process exits.
func (i *Invoker) Launch(ctx context.Context, args []string, stdout, stderr io.Writer, opts LaunchOptions) (*Handle, error) {
	path, err := exec.LookPath(i.bin)
	if err != nil {
		return nil, fault.Wrap(fault.LaunchError, err, "encoder executable %q not found", i.bin)
	}

	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = nil

	var tail *TailBuffer
	var tailFile string
	switch w := stderr.(type) {
	case *os.File:
		cmd.Stderr = w
		tailFile = w.Name()
	case nil:
		tail = NewTailBuffer(i.tailBytes)
		cmd.Stderr = tail
	default:
		tail = NewTailBuffer(i.tailBytes)
		cmd.Stderr = io.MultiWriter(w, tail)
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}

	if err := cmd.Start(); err != nil {
		return nil, fault.Wrap(fault.LaunchError, err, "spawning %s", i.bin)
	}

	h := &Handle{
		Pid:       cmd.Process.Pid,
		StartedAt: time.Now(),
		Command:   append([]string{path}, args...),
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	if pgid, err := unix.Getpgid(h.Pid); err == nil {
		h.Pgid = pgid
	}
	go func() {
		h.waitErr = cmd.Wait()
		h.exitCode = cmd.ProcessState.ExitCode()
		close(h.done)
	}()

	i.logger.Debug("encoder started", slog.Int("pid", h.Pid), slog.Int("pgid", h.Pgid))

	if opts.Grace <= 0 {
		return h, nil
	}

	timer := time.NewTimer(opts.Grace)
	defer timer.Stop()
	select {
	case <-timer.C:
		return h, nil
	case <-h.done:
		detail := ""
		if tail != nil {
			detail = tail.String()
		} else {
			detail = readFileTail(tailFile, i.tailBytes)
		}
		return nil, fault.New(fault.LaunchError, "encoder exited during startup with code %d: %s",
			h.exitCode, strings.TrimSpace(detail))
	case <-ctx.Done():
		_ = h.Kill()
		<-h.done
		return nil, fault.Wrap(fault.Cancelled, ctx.Err(), "launch interrupted")
	}
}

// RunResult is the outcome of a foreground encode.
type RunResult struct {
	ExitCode int
	// Output is a bounded tail of the combined stdout and stderr.
	Output string
}

// Run executes the encoder to completion, feeding every output line to
// onLine. Cancelling ctx terminates the process group, escalating to SIGKILL
// after KillAfter. A non-zero exit is not an error; inspect ExitCode.
func (i *Invoker) Run(ctx context.Context, args []string, onLine func(line string)) (RunResult, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return RunResult{ExitCode: -1}, fault.Wrap(fault.LaunchError, err, "creating output pipe")
	}
	defer r.Close()

	h, err := i.Launch(ctx, args, w, w, LaunchOptions{})
	// The child holds its own copies of the write end.
	w.Close()
	if err != nil {
		return RunResult{ExitCode: -1}, err
	}

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopWatch:
			return
		case <-h.done:
			return
		}
		_ = h.Terminate()
		timer := time.NewTimer(i.KillAfter)
		defer timer.Stop()
		select {
		case <-timer.C:
			i.logger.Warn("encoder ignored SIGTERM, killing", slog.Int("pid", h.Pid))
			_ = h.Kill()
		case <-h.done:
		}
	}()

	tail := NewTailBuffer(i.tailBytes)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(tail, line)
		if onLine != nil {
			onLine(line)
		}
	}
	if err := scanner.Err(); err != nil {
		i.logger.Warn("reading encoder output", slog.String("error", err.Error()))
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(tail, r)
	}

	res := RunResult{ExitCode: h.Wait(), Output: tail.String()}
	if ctx.Err() != nil {
		return res, fault.Wrap(fault.Cancelled, ctx.Err(), "encode cancelled")
	}
	return res, nil
}
