package ffmpeg

import (
	"context"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Prober asks ffprobe for container durations.
type Prober struct {
	bin    string
	logger *slog.Logger
}

func NewProber(bin string, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{bin: bin, logger: logger}
}

// ProbeDuration returns the duration of path in seconds, or 0 when it is
// unknown. It never fails: a broken probe only disables progress reporting.
func (p *Prober) ProbeDuration(ctx context.Context, path string) float64 {
	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		p.logger.Warn("duration probe failed", slog.String("path", path), slog.String("error", err.Error()))
		return 0
	}
	return parseDuration(string(out))
}

func parseDuration(s string) float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return d
}

// Toolchain pairs the encoder and the prober, which is what a transcode
// worker needs.
type Toolchain struct {
	*Invoker
	*Prober
}
