package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"signally/fault"
	"signally/ffmpeg"
	"signally/media"

	"github.com/lithammer/shortuuid/v4"
)

// errorTailBytes caps the encoder output quoted in a task's error; the full
// bounded tail stays in Task.Output.
const errorTailBytes = 512

// Runner is the encoder toolchain a worker drives.
type Runner interface {
	ProbeDuration(ctx context.Context, path string) float64
	Run(ctx context.Context, args []string, onLine func(line string)) (ffmpeg.RunResult, error)
}

type Options struct {
	Workers int
	// ExtraArgs are appended to every transcode's encoder arguments.
	ExtraArgs []string
	// Gate, when set, is consulted before a worker claims a task. An error
	// leaves the task queued and the worker retries after GateBackoff.
	Gate        func(ctx context.Context) error
	GateBackoff time.Duration
	Logger      *slog.Logger
}

type Manager struct {
	runner  Runner
	library *media.Library
	opts    Options
	logger  *slog.Logger

	mu     sync.Mutex
	tasks  map[string]*Task
	queue  []*Task
	seq    uint64
	notify chan struct{}

	wg      sync.WaitGroup
	started bool
}

func NewManager(runner Runner, library *media.Library, opts Options) *Manager {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.GateBackoff <= 0 {
		opts.GateBackoff = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		runner:  runner,
		library: library,
		opts:    opts,
		logger:  opts.Logger,
		tasks:   make(map[string]*Task),
		notify:  make(chan struct{}, 1),
	}
}

// Start launches the worker pool. Workers stop when ctx is done; a task that
// is active at that point ends failed with a cancellation error.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	m.logger.Info("transcode workers started", slog.Int("workers", m.opts.Workers))
	for n := 0; n < m.opts.Workers; n++ {
		m.wg.Add(1)
		go m.worker(ctx, n)
	}
}

// Wait blocks until every worker has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Submit validates the request and queues a new task. It never blocks on the
// workers.
func (m *Manager) Submit(req Request) (string, error) {
	input, err := filepath.Abs(req.InputPath)
	if err != nil {
		return "", fault.Wrap(fault.InputMissing, err, "resolving %s", req.InputPath)
	}
	info, err := os.Stat(input)
	if err != nil || !info.Mode().IsRegular() {
		return "", fault.New(fault.InputMissing, "input %s does not exist", req.InputPath)
	}

	output := req.OutputPath
	if output == "" {
		output = m.library.TranscodedPath(input)
	}
	if output, err = filepath.Abs(output); err != nil {
		return "", fault.Wrap(fault.InvalidArgument, err, "resolving output %s", req.OutputPath)
	}
	if output == input {
		return "", fault.New(fault.InvalidArgument, "output would overwrite input %s", input)
	}

	m.mu.Lock()
	m.seq++
	t := &Task{
		ID:          fmt.Sprintf("task_%d_%s", m.seq, shortuuid.New()[:8]),
		InputPath:   input,
		OutputPath:  output,
		Options:     req.Options.WithDefaults(),
		Status:      StatusQueued,
		SubmittedAt: time.Now(),
	}
	m.tasks[t.ID] = t
	m.queue = append(m.queue, t)
	m.mu.Unlock()

	m.wake()
	m.logger.Info("task submitted", slog.String("task_id", t.ID), slog.String("input", input))
	return t.ID, nil
}

// Status returns a snapshot of the task.
func (m *Manager) Status(id string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, fault.New(fault.NotFound, "task %s not found", id)
	}
	return t.snapshot(), nil
}

// List returns snapshots of every task in submission order.
func (m *Manager) List() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// FindByInput returns the newest task whose input has the same base name as
// name.
func (m *Manager) FindByInput(name string) (Task, bool) {
	base := filepath.Base(name)
	var found *Task
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if filepath.Base(t.InputPath) != base {
			continue
		}
		if found == nil || t.SubmittedAt.After(found.SubmittedAt) {
			found = t
		}
	}
	if found == nil {
		return Task{}, false
	}
	return found.snapshot(), true
}

// Cancel removes a queued task or signals an active one. An active task is
// marked failed once its encoder has exited.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return fault.New(fault.NotFound, "task %s not found", id)
	}

	switch t.Status {
	case StatusQueued:
		for i, q := range m.queue {
			if q == t {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				break
			}
		}
		t.Status = StatusFailed
		t.ErrorKind = fault.Cancelled
		t.Error = "cancelled while queued"
		t.EndedAt = time.Now()
		m.logger.Info("task cancelled in queue", slog.String("task_id", id))
	case StatusActive:
		t.cancelRequested = true
		if t.cancelFunc != nil {
			t.cancelFunc()
		}
		m.logger.Info("cancellation signal sent to running task", slog.String("task_id", id))
	default:
		return fault.New(fault.InvalidArgument, "cannot cancel task in state: %s", t.Status)
	}
	return nil
}

func (m *Manager) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) worker(ctx context.Context, n int) {
	defer m.wg.Done()
	logger := m.logger.With(slog.Int("worker", n))
	for {
		t, taskCtx := m.claim(ctx, logger)
		if t == nil {
			logger.Debug("worker shutting down")
			return
		}
		m.process(taskCtx, t)
	}
}

// claim blocks until a task is available and moves it to active. It returns
// nil once ctx is done.
func (m *Manager) claim(ctx context.Context, logger *slog.Logger) (*Task, context.Context) {
	for {
		if ctx.Err() != nil {
			return nil, nil
		}

		m.mu.Lock()
		pending := len(m.queue)
		m.mu.Unlock()
		if pending == 0 {
			select {
			case <-ctx.Done():
				return nil, nil
			case <-m.notify:
			}
			continue
		}

		if m.opts.Gate != nil {
			if err := m.opts.Gate(ctx); err != nil {
				logger.Warn("deferring transcode", slog.String("reason", err.Error()))
				select {
				case <-ctx.Done():
					return nil, nil
				case <-time.After(m.opts.GateBackoff):
				}
				continue
			}
		}

		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			continue
		}
		t := m.queue[0]
		m.queue = m.queue[1:]
		taskCtx, cancel := context.WithCancel(ctx)
		t.Status = StatusActive
		t.StartedAt = time.Now()
		t.cancelFunc = cancel
		more := len(m.queue) > 0
		m.mu.Unlock()

		if more {
			m.wake()
		}
		return t, taskCtx
	}
}

// process runs one task to a terminal state. Nothing escapes it: encoder
// failures and panics alike end as a failed task.
func (m *Manager) process(ctx context.Context, t *Task) {
	logger := m.logger.With(slog.String("task_id", t.ID))
	tmp := t.OutputPath + TempSuffix

	defer func() {
		if r := recover(); r != nil {
			os.Remove(tmp)
			logger.Error("transcode worker panicked", slog.Any("panic", r))
			m.fail(t, fault.New(fault.EncodeFailure, "worker panic: %v", r), -1, "")
		}
	}()
	defer t.cancelFunc()

	logger.Info("processing task", slog.String("output", t.OutputPath))

	if err := os.Remove(tmp); err == nil {
		logger.Warn("removed stale temp output", slog.String("path", tmp))
	}
	if err := os.MkdirAll(filepath.Dir(t.OutputPath), 0o755); err != nil {
		m.fail(t, fault.Wrap(fault.EncodeFailure, err, "creating output directory"), 0, "")
		return
	}

	duration := m.runner.ProbeDuration(ctx, t.InputPath)
	if duration <= 0 {
		logger.Warn("source duration unknown, progress disabled")
	}

	opts := t.Options
	opts.ExtraArgs = append(append([]string(nil), m.opts.ExtraArgs...), opts.ExtraArgs...)
	args := ffmpeg.TranscodeArgs(t.InputPath, tmp, opts)

	var parser ffmpeg.ProgressParser
	res, err := m.runner.Run(ctx, args, func(line string) {
		us, ok := parser.Feed(line)
		if !ok {
			if speed := parser.Speed(); speed != "" {
				m.setSpeed(t, speed)
			}
			return
		}
		if pct, ok := ffmpeg.Percent(us, duration); ok {
			m.advance(t, pct)
		}
	})

	if m.wasCancelled(t) || errors.Is(err, fault.ErrCancelled) {
		os.Remove(tmp)
		m.fail(t, fault.New(fault.Cancelled, "transcode cancelled"), res.ExitCode, res.Output)
		return
	}
	if err != nil {
		os.Remove(tmp)
		if fault.KindOf(err) == "" {
			err = fault.Wrap(fault.EncodeFailure, err, "running encoder")
		}
		m.fail(t, err, res.ExitCode, res.Output)
		return
	}
	if res.ExitCode != 0 {
		os.Remove(tmp)
		m.fail(t, fault.New(fault.EncodeFailure, "encoder exited with code %d: %s", res.ExitCode, errorTail(res.Output)), res.ExitCode, res.Output)
		return
	}

	info, err := os.Stat(tmp)
	if err != nil || info.Size() == 0 {
		os.Remove(tmp)
		m.fail(t, fault.New(fault.EncodeFailure, "encoder produced no output"), res.ExitCode, res.Output)
		return
	}
	if err := os.Rename(tmp, t.OutputPath); err != nil {
		os.Remove(tmp)
		m.fail(t, fault.Wrap(fault.EncodeFailure, err, "installing output"), res.ExitCode, res.Output)
		return
	}

	outDuration := m.runner.ProbeDuration(context.WithoutCancel(ctx), t.OutputPath)

	m.mu.Lock()
	t.Status = StatusCompleted
	t.Progress = 100
	t.OutputSize = info.Size()
	t.OutputDuration = outDuration
	t.EndedAt = time.Now()
	m.mu.Unlock()

	logger.Info("task completed", slog.Int64("size", info.Size()), slog.Duration("took", time.Since(t.StartedAt)))
}

// errorTail is the end of the encoder output quoted in a failure message.
func errorTail(output string) string {
	output = strings.TrimSpace(output)
	if len(output) > errorTailBytes {
		output = "..." + output[len(output)-errorTailBytes:]
	}
	return output
}

// advance records pct if it moves progress forward.
func (m *Manager) advance(t *Task, pct int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status == StatusActive && pct > t.Progress {
		t.Progress = pct
	}
}

func (m *Manager) setSpeed(t *Task, speed string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status == StatusActive {
		t.Speed = speed
	}
}

func (m *Manager) wasCancelled(t *Task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return t.cancelRequested
}

func (m *Manager) fail(t *Task, err error, exitCode int, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status.Terminal() {
		return
	}
	t.Status = StatusFailed
	t.ErrorKind = fault.KindOf(err)
	t.Error = err.Error()
	t.ExitCode = exitCode
	t.Output = output
	t.EndedAt = time.Now()
	m.logger.Warn("task failed", slog.String("task_id", t.ID), slog.Int("exit_code", exitCode), slog.String("error", t.Error))
}
