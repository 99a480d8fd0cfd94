package task

import (
	"context"
	"time"

	"signally/fault"
	"signally/ffmpeg"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TempSuffix is appended to the output path while an encode is in flight.
const TempSuffix = ".tmp"

// Request describes a transcode to submit. OutputPath and Options are optional.
type Request struct {
	InputPath  string
	OutputPath string
	Options    ffmpeg.TranscodeOptions
}

type Task struct {
	ID             string                  `json:"id"`
	InputPath      string                  `json:"inputPath"`
	OutputPath     string                  `json:"outputPath"`
	Options        ffmpeg.TranscodeOptions `json:"config"`
	Status         Status                  `json:"status"`
	Progress       int                     `json:"progress"`
	Speed          string                  `json:"speed,omitempty"` // Last encode speed reported, e.g. "2.5x"
	Error          string                  `json:"error,omitempty"`
	ErrorKind      fault.Kind              `json:"errorKind,omitempty"`
	ExitCode       int                     `json:"exitCode,omitempty"`
	Output         string                  `json:"output,omitempty"` // Tail of the encoder output
	OutputSize     int64                   `json:"outputSize,omitempty"`
	OutputDuration float64                 `json:"outputDuration,omitempty"`
	SubmittedAt    time.Time               `json:"submittedAt"`
	StartedAt      time.Time               `json:"startedAt,omitempty"`
	EndedAt        time.Time               `json:"endedAt,omitempty"`

	cancelFunc      context.CancelFunc
	cancelRequested bool
}

// snapshot copies the exported state so callers never share memory with the
// worker that owns the task.
func (t *Task) snapshot() Task {
	c := *t
	c.cancelFunc = nil
	c.Options.ExtraArgs = append([]string(nil), t.Options.ExtraArgs...)
	return c
}
