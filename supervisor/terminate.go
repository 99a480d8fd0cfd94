package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"signally/channel"
	"signally/fault"
	"signally/ffmpeg"

	"golang.org/x/sys/unix"
)

const pollInterval = 50 * time.Millisecond

// Stop terminates the channel's encoder and clears its transmission. The
// channel always ends up marked not transmitting; PartialFailure reports that
// the process could not be confirmed gone.
func (s *Supervisor) Stop(ctx context.Context, id int64) (*channel.Channel, error) {
	unlock := s.lock(id)
	defer unlock()

	ch, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	// A record whose pid now belongs to another command is cleared here, so
	// nothing below ever signals it.
	if _, err := s.clearStale(ctx, ch); err != nil {
		return ch, fmt.Errorf("repairing channel state: %w", err)
	}
	if !ch.Transmitting || ch.Transmission == nil {
		return ch, fault.New(fault.NotTransmitting, "channel %d is not transmitting", id)
	}

	tx := ch.Transmission
	var h *ffmpeg.Handle
	if cur := s.handle(id); cur != nil && cur.Pid == tx.Pid {
		h = cur
	}

	stopErr := s.terminate(id, tx, h)

	ch.ClearTransmission()
	s.setHandle(id, nil)
	if err := s.registry.Save(ctx, ch); err != nil {
		return ch, fmt.Errorf("recording stop: %w", err)
	}
	if stopErr != nil {
		return ch, stopErr
	}
	s.logger.Info("transmission stopped", slog.Int64("channel_id", id), slog.Int("pid", tx.Pid))
	return ch, nil
}

// terminate runs the escalation: SIGTERM to the group, wait, SIGKILL, wait,
// reap, and finally a command-line pattern kill scoped to the channel.
func (s *Supervisor) terminate(id int64, tx *channel.Transmission, h *ffmpeg.Handle) error {
	logger := s.logger.With(slog.Int64("channel_id", id), slog.Int("pid", tx.Pid))

	alive := func() bool {
		if h != nil {
			return h.IsAlive()
		}
		return s.procs.Alive(tx.Pid)
	}
	pgid := s.resolvePgid(tx)

	if err := s.procs.Signal(tx.Pid, pgid, unix.SIGTERM); err != nil {
		logger.Warn("graceful stop signal failed", slog.String("error", err.Error()))
	}
	if waitDead(alive, s.opts.TermGrace) {
		s.reap(tx.Pid, h)
		return nil
	}

	logger.Warn("encoder ignored SIGTERM, killing", slog.Int("pgid", pgid))
	if err := s.procs.Signal(tx.Pid, pgid, unix.SIGKILL); err != nil {
		logger.Warn("kill signal failed", slog.String("error", err.Error()))
	}
	waitDead(alive, s.opts.KillGrace)
	s.reap(tx.Pid, h)
	if !alive() {
		return nil
	}

	killed, err := s.procs.KillMatching(playlistPattern(id))
	if err != nil {
		logger.Error("pattern kill failed", slog.String("error", err.Error()))
	} else {
		logger.Warn("pattern kill issued", slog.Any("pids", killed))
	}
	if waitDead(alive, s.opts.KillGrace) {
		s.reap(tx.Pid, h)
		return nil
	}
	return fault.New(fault.PartialFailure, "encoder pid %d of channel %d survived SIGKILL", tx.Pid, id)
}

// resolvePgid returns the group to signal, or 0 to signal the pid alone. The
// supervisor's own group is never a target.
func (s *Supervisor) resolvePgid(tx *channel.Transmission) int {
	pgid := tx.Pgid
	if pgid <= 0 {
		if got, err := s.procs.Pgid(tx.Pid); err == nil && got == tx.Pid {
			pgid = got
		}
	}
	if pgid > 0 && pgid == unix.Getpgrp() {
		return 0
	}
	return pgid
}

// reap collects the exit status so the encoder does not linger as a zombie.
// Encoders launched by this process are reaped by their handle.
func (s *Supervisor) reap(pid int, h *ffmpeg.Handle) {
	if h != nil {
		select {
		case <-h.Done():
		case <-time.After(s.opts.KillGrace):
		}
		return
	}
	s.procs.Reap(pid)
}

// waitDead polls alive until it reports false or d elapses.
func waitDead(alive func() bool, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !alive() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
