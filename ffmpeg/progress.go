package ffmpeg

import (
	"math"
	"strconv"
	"strings"
)

// ProgressParser reads the key=value stream ffmpeg emits with -progress.
// Unknown keys, blank lines and "N/A" values are ignored.
type ProgressParser struct {
	speed string
}

// Feed consumes one line. It returns the elapsed output time in microseconds
// when the line carried a usable elapsed-time marker.
func (p *ProgressParser) Feed(line string) (int64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}
	value = strings.TrimSpace(value)

	switch key {
	// ffmpeg reports out_time_ms in microseconds as well.
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		return us, true
	case "speed":
		if value != "N/A" {
			p.speed = value
		}
	}
	return 0, false
}

// Speed is the last reported encode speed, e.g. "2.5x".
func (p *ProgressParser) Speed() string { return p.speed }

// Percent maps elapsed microseconds onto a 0..99 estimate against a source
// duration in seconds. It reports false when the duration is unknown.
func Percent(elapsedUs int64, durationSec float64) (int, bool) {
	if durationSec <= 0 || math.IsNaN(durationSec) || math.IsInf(durationSec, 0) {
		return 0, false
	}
	pct := math.Floor(float64(elapsedUs) / (durationSec * 1_000_000) * 100)
	switch {
	case pct < 0:
		pct = 0
	case pct > 99:
		pct = 99
	}
	return int(pct), true
}
