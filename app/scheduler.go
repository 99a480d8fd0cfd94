package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the periodic jobs: channel reconciliation with the lineup
// refresh, and the rescan of originals for auto-transcoding.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler registers the periodic jobs. Jobs run with ctx and stop doing
// work once it is done.
func (a *App) NewScheduler(ctx context.Context) (*Scheduler, error) {
	logger := a.Logger.With(slog.String("component", "scheduler"))
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(a.Config.ReconcileSchedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := a.Supervisor.Recover(ctx); err != nil {
			logger.Error("reconcile failed", slog.String("error", err.Error()))
		}
		changed, err := a.RefreshLineup(ctx)
		if err != nil {
			logger.Error("lineup refresh failed", slog.String("error", err.Error()))
		} else if changed {
			logger.Info("lineup changed", slog.String("path", a.LineupPath()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parsing RECONCILE_SCHEDULE %q: %w", a.Config.ReconcileSchedule, err)
	}

	_, err = c.AddFunc(a.Config.RescanSchedule, func() {
		if ctx.Err() != nil {
			return
		}
		n, err := a.SubmitPending()
		if err != nil {
			logger.Error("rescan failed", slog.String("error", err.Error()))
			return
		}
		if n > 0 {
			logger.Info("queued pending originals", slog.Int("count", n))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parsing RESCAN_SCHEDULE %q: %w", a.Config.RescanSchedule, err)
	}

	return &Scheduler{cron: c, logger: logger}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
