package ffmpeg

import (
	"math"
	"testing"

	"signally/logging"

	"github.com/stretchr/testify/assert"
)

func TestCheckResources(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, CheckResources(dir, Thresholds{}, logging.Discard()))
	assert.NoError(t, CheckResources(dir, Thresholds{MinFreeDisk: 1}, logging.Discard()))

	err := CheckResources(dir, Thresholds{MinFreeDisk: math.MaxInt64}, logging.Discard())
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "not enough free disk space")
	}

	err = CheckResources(dir, Thresholds{MinFreeMem: math.MaxInt64}, logging.Discard())
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "not enough free memory")
	}
}
