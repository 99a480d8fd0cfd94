// signally/config/config_test.go
package config_test // Use an external test package

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"signally/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		chdir(t, t.TempDir())

		cfg, err := config.Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "ffmpeg", cfg.FFBin)
		assert.Equal(t, "ffprobe", cfg.FFProbeBin)
		assert.Equal(t, 1, cfg.TranscodeWorkers)
		assert.Equal(t, time.Second, cfg.LaunchGrace)
		assert.Equal(t, 2*time.Second, cfg.TermGrace)
		assert.Equal(t, int64(2*1024), cfg.OutputTail)
		assert.Equal(t, int64(200*1024*1024), cfg.ThrottleFreeDisk)
		assert.Equal(t, int64(0), cfg.ThrottleFreeMem)
		assert.Equal(t, 1935, cfg.IngestPort)
		assert.Equal(t, "sqlite", cfg.RegistryDriver)
		assert.Equal(t, "@every 30s", cfg.ReconcileSchedule)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("SIGNALLY_TRANSCODE_WORKERS", "3")
		t.Setenv("SIGNALLY_TERM_GRACE", "500ms")
		t.Setenv("SIGNALLY_OUTPUT_TAIL", "8KB")
		t.Setenv("SIGNALLY_INGEST_HOST", "media.local")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.TranscodeWorkers)
		assert.Equal(t, 500*time.Millisecond, cfg.TermGrace)
		assert.Equal(t, int64(8*1024), cfg.OutputTail)
		assert.Equal(t, "media.local", cfg.IngestHost)
	})

	t.Run("reads an explicit yaml file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte("INGEST_PORT: 1936\nMEDIA_ROOT: /srv/media\n"), 0o644))

		cfg, err := config.LoadFile(path)
		require.NoError(t, err)

		assert.Equal(t, 1936, cfg.IngestPort)
		assert.Equal(t, "/srv/media", cfg.MediaRoot)
	})

	t.Run("rejects an empty worker pool", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("SIGNALLY_TRANSCODE_WORKERS", "0")

		_, err := config.Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "TRANSCODE_WORKERS")
	})

	t.Run("rejects an unknown registry driver", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("SIGNALLY_REGISTRY_DRIVER", "oracle")

		_, err := config.Load()
		assert.Error(t, err)
	})
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })
}
