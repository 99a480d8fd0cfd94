// Package proc wraps the OS process table: liveness probes that treat zombies
// as dead, group-or-pid signalling, targeted reaping and the last-resort
// command-line pattern kill used when a group signal did not clear an encoder.
package proc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// Table is the process table of the local host.
type Table struct {
	logger *slog.Logger
}

func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{logger: logger}
}

// Alive reports whether pid names a running process. Zombies count as dead:
// they no longer execute and only wait for their parent to reap them.
func (t *Table) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		// Exists but unreadable (e.g. another user's process): assume alive.
		return true
	}
	return !slices.Contains(status, process.Zombie)
}

// Signal sends sig to the whole process group when pgid is known, otherwise to
// pid alone. A target that is already gone is not an error.
func (t *Table) Signal(pid, pgid int, sig unix.Signal) error {
	var err error
	switch {
	case pgid > 0:
		err = unix.Kill(-pgid, sig)
	case pid > 0:
		err = unix.Kill(pid, sig)
	default:
		return fmt.Errorf("no pid or process group to signal")
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sending %s to pid=%d pgid=%d: %w", unix.SignalName(sig), pid, pgid, err)
	}
	return nil
}

// Reap collects the exit status of pid if it is a terminated child of this
// process. It never blocks and only targets pid, so exit statuses owned by
// other waiters are left alone.
func (t *Table) Reap(pid int) bool {
	if pid <= 0 {
		return false
	}
	var ws unix.WaitStatus
	got, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	if err != nil || got != pid {
		return false
	}
	t.logger.Debug("reaped child", slog.Int("pid", pid), slog.Int("exit_code", ws.ExitStatus()))
	return true
}

// Pgid returns the process group of pid.
func (t *Table) Pgid(pid int) (int, error) {
	return unix.Getpgid(pid)
}

// Cmdline returns the full command line of pid.
func (t *Table) Cmdline(pid int) (string, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return p.Cmdline()
}

// KillMatching SIGKILLs every process whose command line matches pattern and
// returns the pids it signalled. The calling process is never a candidate.
func (t *Table) KillMatching(pattern *regexp.Regexp) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	self := int32(os.Getpid())
	var killed []int
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || !pattern.MatchString(cmdline) {
			continue
		}
		if err := p.Kill(); err != nil {
			t.logger.Warn("pattern kill failed", slog.Int("pid", int(p.Pid)), slog.String("error", err.Error()))
			continue
		}
		killed = append(killed, int(p.Pid))
	}
	return killed, nil
}

// Descendants lists every process below pid. It is diagnostic only;
// termination relies on process groups.
func (t *Table) Descendants(pid int) []int {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	var out []int
	var walk func(*process.Process)
	walk = func(parent *process.Process) {
		children, err := parent.Children()
		if err != nil {
			return
		}
		for _, c := range children {
			out = append(out, int(c.Pid))
			walk(c)
		}
	}
	walk(p)
	return out
}
