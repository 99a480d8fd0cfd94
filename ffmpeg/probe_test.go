package ffmpeg

import (
	"context"
	"testing"

	"signally/logging"

	"github.com/stretchr/testify/assert"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"120.000000\n", 120},
		{"  3.5 ", 3.5},
		{"N/A", 0},
		{"", 0},
		{"-1", 0},
		{"NaN", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseDuration(tt.in), "input %q", tt.in)
	}
}

func TestProbeDuration(t *testing.T) {
	ctx := context.Background()

	ok := NewProber(writeScript(t, `echo 42.5`), logging.Discard())
	assert.Equal(t, 42.5, ok.ProbeDuration(ctx, "/media/clip.mov"))

	failing := NewProber(writeScript(t, `echo "Invalid data found" >&2; exit 1`), logging.Discard())
	assert.Equal(t, 0.0, failing.ProbeDuration(ctx, "/media/clip.mov"))

	missing := NewProber("/nonexistent/ffprobe", logging.Discard())
	assert.Equal(t, 0.0, missing.ProbeDuration(ctx, "/media/clip.mov"))
}
