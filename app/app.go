// Package app wires configuration, storage, the transcode queue and the
// stream supervisor into one object built once per process and handed to the
// presentation layer.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"signally/channel"
	"signally/config"
	"signally/ffmpeg"
	"signally/logging"
	"signally/media"
	"signally/proc"
	"signally/supervisor"
	"signally/task"
)

type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Library    *media.Library
	Registry   channel.Registry
	Tasks      *task.Manager
	Supervisor *supervisor.Supervisor
	Lineup     *channel.LineupTracker

	closers []io.Closer
}

// New builds every component from cfg. Nothing is started; call Serve or use
// the components directly.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	transcodeExtra, err := ffmpeg.ParseExtraArgs(cfg.TranscodeExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("TRANSCODE_EXTRA_ARGS: %w", err)
	}
	streamExtra, err := ffmpeg.ParseExtraArgs(cfg.StreamExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("STREAM_EXTRA_ARGS: %w", err)
	}

	lib := media.NewLibrary(cfg.MediaRoot)
	if err := lib.Ensure(); err != nil {
		return nil, err
	}

	registry, err := channel.OpenRegistry(cfg.RegistryDriver, cfg.RegistryDSN, logging.WithComponent(logger, "registry"))
	if err != nil {
		return nil, err
	}

	tail := int(cfg.OutputTail)
	invoker := ffmpeg.NewInvoker(cfg.FFBin, tail, logging.WithComponent(logger, "encoder"))
	prober := ffmpeg.NewProber(cfg.FFProbeBin, logging.WithComponent(logger, "probe"))

	taskLogger := logging.WithComponent(logger, "tasks")
	thresholds := ffmpeg.Thresholds{
		MinIdleCPU:  cfg.ThrottleCPU,
		MinFreeMem:  cfg.ThrottleFreeMem,
		MinFreeDisk: cfg.ThrottleFreeDisk,
	}
	var gate func(context.Context) error
	if thresholds != (ffmpeg.Thresholds{}) {
		gate = func(context.Context) error {
			return ffmpeg.CheckResources(lib.Root(), thresholds, taskLogger)
		}
	}
	tasks := task.NewManager(ffmpeg.Toolchain{Invoker: invoker, Prober: prober}, lib, task.Options{
		Workers:   cfg.TranscodeWorkers,
		ExtraArgs: transcodeExtra,
		Gate:      gate,
		Logger:    taskLogger,
	})

	sup := supervisor.New(registry, lib, invoker, proc.NewTable(logging.WithComponent(logger, "proc")), supervisor.Options{
		IngestHost:    cfg.IngestHost,
		IngestPort:    cfg.IngestPort,
		IngestApp:     cfg.IngestApp,
		IngestTimeout: cfg.IngestTimeout,
		LaunchGrace:   cfg.LaunchGrace,
		TermGrace:     cfg.TermGrace,
		KillGrace:     cfg.KillGrace,
		ExtraArgs:     streamExtra,
		Logger:        logging.WithComponent(logger, "supervisor"),
	})

	return &App{
		Config:     cfg,
		Logger:     logger,
		Library:    lib,
		Registry:   registry,
		Tasks:      tasks,
		Supervisor: sup,
		Lineup:     &channel.LineupTracker{},
		closers:    []io.Closer{registry},
	}, nil
}

// Close releases storage. Encoders keep running; they are tracked through the
// registry, not through this process.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// SubmitPending queues a transcode for every original lacking a rendition.
// Originals that already have a task, whatever its state, are skipped so a
// failing input is not retried on every scan.
func (a *App) SubmitPending() (int, error) {
	pending, err := a.Library.Pending()
	if err != nil {
		return 0, err
	}
	submitted := 0
	for _, input := range pending {
		if _, ok := a.Tasks.FindByInput(input); ok {
			continue
		}
		if _, err := a.Tasks.Submit(task.Request{InputPath: input}); err != nil {
			a.Logger.Warn("auto-transcode submit failed", slog.String("input", input), slog.String("error", err.Error()))
			continue
		}
		submitted++
	}
	return submitted, nil
}

// LineupPath is where RefreshLineup keeps the current M3U lineup.
func (a *App) LineupPath() string {
	return filepath.Join(a.Library.TempDir(), "lineup.m3u")
}

// RefreshLineup renders the lineup of transmitting channels and rewrites
// LineupPath when it changed since the previous refresh.
func (a *App) RefreshLineup(ctx context.Context) (bool, error) {
	channels, err := a.Registry.LoadAll(ctx)
	if err != nil {
		return false, err
	}
	lineup, changed, err := a.Lineup.Update(channels, a.Config.HLSBaseURL)
	if err != nil || !changed {
		return false, err
	}

	path := a.LineupPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, lineup, 0o644); err != nil {
		return false, fmt.Errorf("writing lineup: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("replacing lineup: %w", err)
	}
	return true, nil
}

// Serve recovers channel state, runs the transcode workers and the periodic
// jobs until ctx is done, then waits for the workers to wind down.
func (a *App) Serve(ctx context.Context) error {
	if _, err := a.Supervisor.Recover(ctx); err != nil {
		a.Logger.Error("channel recovery incomplete", slog.String("error", err.Error()))
	}

	if _, err := a.RefreshLineup(ctx); err != nil {
		a.Logger.Warn("writing lineup failed", slog.String("error", err.Error()))
	}

	a.Tasks.Start(ctx)
	if n, err := a.SubmitPending(); err != nil {
		a.Logger.Warn("scanning originals failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.Logger.Info("queued pending originals", slog.Int("count", n))
	}

	sched, err := a.NewScheduler(ctx)
	if err != nil {
		return err
	}
	sched.Start()
	a.Logger.Info("signally serving", slog.String("media_root", a.Library.Root()))

	<-ctx.Done()
	sched.Stop()
	a.Tasks.Wait()
	a.Logger.Info("signally stopped")
	return nil
}
