// Package supervisor runs at most one push encoder per channel. It owns the
// channel's transmission fields: every start, stop, recovery and exit path
// leaves Transmission and Transmitting in agreement and persisted.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"signally/channel"
	"signally/fault"
	"signally/ffmpeg"
	"signally/media"

	"golang.org/x/sys/unix"
)

// Launcher starts encoder processes.
type Launcher interface {
	Launch(ctx context.Context, args []string, stdout, stderr io.Writer, opts ffmpeg.LaunchOptions) (*ffmpeg.Handle, error)
}

// ProcessTable is the view of OS processes the supervisor needs.
type ProcessTable interface {
	Alive(pid int) bool
	Signal(pid, pgid int, sig unix.Signal) error
	Reap(pid int) bool
	Pgid(pid int) (int, error)
	Cmdline(pid int) (string, error)
	KillMatching(pattern *regexp.Regexp) ([]int, error)
	Descendants(pid int) []int
}

type Options struct {
	IngestHost    string
	IngestPort    int
	IngestApp     string
	IngestTimeout time.Duration
	LaunchGrace   time.Duration
	TermGrace     time.Duration
	KillGrace     time.Duration
	ExtraArgs     []string
	Logger        *slog.Logger
}

type Supervisor struct {
	registry channel.Registry
	library  *media.Library
	launcher Launcher
	procs    ProcessTable
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	locks   map[int64]*sync.Mutex
	handles map[int64]*ffmpeg.Handle
}

func New(registry channel.Registry, library *media.Library, launcher Launcher, procs ProcessTable, opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IngestTimeout <= 0 {
		opts.IngestTimeout = 5 * time.Second
	}
	return &Supervisor{
		registry: registry,
		library:  library,
		launcher: launcher,
		procs:    procs,
		opts:     opts,
		logger:   opts.Logger,
		locks:    make(map[int64]*sync.Mutex),
		handles:  make(map[int64]*ffmpeg.Handle),
	}
}

// lock serializes operations on one channel. Different channels proceed in
// parallel.
func (s *Supervisor) lock(id int64) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Supervisor) handle(id int64) *ffmpeg.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[id]
}

func (s *Supervisor) setHandle(id int64, h *ffmpeg.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		delete(s.handles, id)
		return
	}
	s.handles[id] = h
}

func (s *Supervisor) load(ctx context.Context, id int64) (*channel.Channel, error) {
	ch, err := s.registry.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, fault.New(fault.NotFound, "channel %d not found", id)
	}
	return ch, nil
}

// encoderAlive reports whether the recorded transmission still has a live
// process that is plausibly this channel's encoder. A pid that now belongs to
// an unrelated command counts as dead.
func (s *Supervisor) encoderAlive(ch *channel.Channel) bool {
	tx := ch.Transmission
	if tx == nil {
		return false
	}
	if h := s.handle(ch.ID); h != nil && h.Pid == tx.Pid {
		return h.IsAlive()
	}
	if !s.procs.Alive(tx.Pid) {
		return false
	}
	cmdline, err := s.procs.Cmdline(tx.Pid)
	if err != nil || cmdline == "" {
		return true
	}
	return playlistPattern(ch.ID).MatchString(cmdline)
}

// clearStale drops a transmission whose process is gone and persists the
// repaired record. It reports whether anything changed.
func (s *Supervisor) clearStale(ctx context.Context, ch *channel.Channel) (bool, error) {
	if ch.Transmission == nil && !ch.Transmitting {
		return false, nil
	}
	if s.encoderAlive(ch) {
		if ch.Consistent() {
			return false, nil
		}
		// Half-recorded state with a live encoder: keep the descriptor so Stop
		// can still reach it.
		ch.Transmitting = true
		return true, s.registry.Save(ctx, ch)
	}
	s.logger.Info("clearing stale transmission", slog.Int64("channel_id", ch.ID))
	ch.ClearTransmission()
	s.setHandle(ch.ID, nil)
	return true, s.registry.Save(ctx, ch)
}

// Start launches the channel's push encoder and records it.
func (s *Supervisor) Start(ctx context.Context, id int64) (*channel.Channel, error) {
	unlock := s.lock(id)
	defer unlock()

	logger := s.logger.With(slog.Int64("channel_id", id))

	ch, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.clearStale(ctx, ch); err != nil {
		return nil, fmt.Errorf("repairing channel state: %w", err)
	}
	if ch.Transmitting {
		return ch, fault.New(fault.AlreadyTransmitting, "channel %d is already transmitting (pid %d)", id, ch.Transmission.Pid)
	}

	if len(ch.Content) == 0 {
		return ch, fault.New(fault.NoContent, "channel %d has no content", id)
	}
	if err := s.preflight(ctx); err != nil {
		return ch, err
	}

	playlist, entries, err := writePlaylist(s.library, ch)
	if err != nil {
		return ch, fault.Wrap(fault.EmptyPlaylist, err, "channel %d", id)
	}
	if entries == 0 {
		return ch, fault.New(fault.EmptyPlaylist, "none of the %d content items of channel %d could be resolved", len(ch.Content), id)
	}

	args := ffmpeg.StreamArgs(playlist, s.ingestURL(ch), ffmpeg.StreamOptions{
		Rotation:  ch.Rotation,
		Loop:      ch.RepeatMode != channel.RepeatOnce,
		ExtraArgs: s.opts.ExtraArgs,
	})

	h, err := s.launch(ctx, ch, args)
	if err != nil {
		ch.ClearTransmission()
		if saveErr := s.registry.Save(ctx, ch); saveErr != nil {
			logger.Error("failed to persist cleared transmission", slog.String("error", saveErr.Error()))
		}
		return ch, err
	}

	ch.SetTransmission(channel.Transmission{
		Pid:       h.Pid,
		Pgid:      h.Pgid,
		Command:   h.Command,
		StartedAt: h.StartedAt,
	})
	if err := s.registry.Save(ctx, ch); err != nil {
		// An unrecorded encoder could never be stopped; take it down.
		_ = h.Kill()
		<-h.Done()
		ch.ClearTransmission()
		return ch, fmt.Errorf("recording transmission: %w", err)
	}

	s.setHandle(id, h)
	go s.monitor(id, h)

	logger.Info("transmission started",
		slog.Int("pid", h.Pid), slog.Int("pgid", h.Pgid), slog.Int("entries", entries))
	return ch, nil
}

// launch opens the channel's append-mode log files and starts the encoder.
func (s *Supervisor) launch(ctx context.Context, ch *channel.Channel, args []string) (*ffmpeg.Handle, error) {
	if err := os.MkdirAll(s.library.LogsDir(), 0o755); err != nil {
		return nil, fault.Wrap(fault.LaunchError, err, "creating log directory")
	}
	base := filepath.Join(s.library.LogsDir(), fmt.Sprintf("channel_%d", ch.ID))
	stdout, err := os.OpenFile(base+".out.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fault.Wrap(fault.LaunchError, err, "opening encoder log")
	}
	defer stdout.Close()
	stderr, err := os.OpenFile(base+".err.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fault.Wrap(fault.LaunchError, err, "opening encoder log")
	}
	defer stderr.Close()

	fmt.Fprintf(stderr, "=== %s starting: %s\n", time.Now().Format(time.RFC3339), strings.Join(args, " "))

	return s.launcher.Launch(ctx, args, stdout, stderr, ffmpeg.LaunchOptions{Grace: s.opts.LaunchGrace})
}

// monitor clears the channel once an encoder launched here exits on its own.
func (s *Supervisor) monitor(id int64, h *ffmpeg.Handle) {
	code := h.Wait()

	unlock := s.lock(id)
	defer unlock()

	s.mu.Lock()
	if s.handles[id] == h {
		delete(s.handles, id)
	}
	s.mu.Unlock()

	ctx := context.Background()
	ch, err := s.registry.GetByID(ctx, id)
	if err != nil || ch == nil || ch.Transmission == nil || ch.Transmission.Pid != h.Pid {
		return
	}

	s.logger.Warn("encoder exited on its own",
		slog.Int64("channel_id", id), slog.Int("pid", h.Pid), slog.Int("exit_code", code))
	ch.ClearTransmission()
	if err := s.registry.Save(ctx, ch); err != nil {
		s.logger.Error("failed to clear exited transmission",
			slog.Int64("channel_id", id), slog.String("error", err.Error()))
	}
}

// Recover clears every persisted transmission whose encoder is no longer
// running. It runs at start-up and periodically afterwards.
func (s *Supervisor) Recover(ctx context.Context) (int, error) {
	channels, err := s.registry.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	cleared := 0
	var errs []error
	for _, listed := range channels {
		if listed.Transmission == nil && !listed.Transmitting {
			continue
		}
		changed, err := s.recoverOne(ctx, listed.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", listed.ID, err))
			continue
		}
		if changed {
			cleared++
		}
	}
	if cleared > 0 {
		s.logger.Info("recovered channel state", slog.Int("cleared", cleared))
	}
	return cleared, errors.Join(errs...)
}

func (s *Supervisor) recoverOne(ctx context.Context, id int64) (bool, error) {
	unlock := s.lock(id)
	defer unlock()

	// Reload under the lock; a concurrent Start or Stop may have run.
	ch, err := s.registry.GetByID(ctx, id)
	if err != nil || ch == nil {
		return false, err
	}
	return s.clearStale(ctx, ch)
}

// Delete removes a channel that is not transmitting.
func (s *Supervisor) Delete(ctx context.Context, id int64) error {
	unlock := s.lock(id)
	defer unlock()

	ch, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.clearStale(ctx, ch); err != nil {
		return fmt.Errorf("repairing channel state: %w", err)
	}
	if ch.Transmitting {
		return fault.New(fault.StillTransmitting, "channel %d is transmitting; stop it first", id)
	}

	if err := s.registry.DeleteByID(ctx, id); err != nil {
		return err
	}
	os.Remove(filepath.Join(s.library.PlaylistsDir(), playlistName(id)))
	s.logger.Info("channel deleted", slog.Int64("channel_id", id))
	return nil
}

// Health is a point-in-time view of a channel's encoder.
type Health struct {
	ChannelID    int64         `json:"channelId"`
	Transmitting bool          `json:"transmitting"`
	Pid          int           `json:"pid,omitempty"`
	Pgid         int           `json:"pgid,omitempty"`
	Alive        bool          `json:"alive"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	Children     []int         `json:"children,omitempty"`
}

// Health reports the recorded transmission and whether its process lives.
func (s *Supervisor) Health(ctx context.Context, id int64) (Health, error) {
	ch, err := s.load(ctx, id)
	if err != nil {
		return Health{}, err
	}
	h := Health{ChannelID: id, Transmitting: ch.Transmitting}
	if tx := ch.Transmission; tx != nil {
		h.Pid = tx.Pid
		h.Pgid = tx.Pgid
		h.Alive = s.encoderAlive(ch)
		if h.Alive {
			h.Uptime = time.Since(tx.StartedAt).Truncate(time.Second)
			h.Children = s.procs.Descendants(tx.Pid)
		}
	}
	return h, nil
}
