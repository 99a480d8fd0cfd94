package channel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"signally/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistry(t *testing.T) *gormRegistry {
	t.Helper()
	reg, err := OpenRegistry("sqlite", filepath.Join(t.TempDir(), "channels.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestRegistry_SaveAndGet(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	ch := &Channel{Name: "Lobby Screen", Content: []string{"intro.mp4", "logo.png"}, Rotation: 90, RepeatMode: RepeatLoop}
	require.NoError(t, reg.Save(ctx, ch))
	assert.NotZero(t, ch.ID)

	t.Run("existing channel", func(t *testing.T) {
		found, err := reg.GetByID(ctx, ch.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "Lobby Screen", found.Name)
		assert.Equal(t, []string{"intro.mp4", "logo.png"}, found.Content)
		assert.Equal(t, 90, found.Rotation)
		assert.Nil(t, found.Transmission)
		assert.False(t, found.Transmitting)
	})

	t.Run("non-existent channel", func(t *testing.T) {
		found, err := reg.GetByID(ctx, 9999)
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestRegistry_TransmissionRoundTrip(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	ch := &Channel{Name: "Bar", Content: []string{"a.mp4"}}
	require.NoError(t, reg.Save(ctx, ch))

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ch.SetTransmission(Transmission{Pid: 4242, Pgid: 4242, Command: []string{"ffmpeg", "-re"}, StartedAt: started})
	require.NoError(t, reg.Save(ctx, ch))

	found, err := reg.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Transmission)
	assert.True(t, found.Transmitting)
	assert.Equal(t, 4242, found.Transmission.Pid)
	assert.Equal(t, []string{"ffmpeg", "-re"}, found.Transmission.Command)
	assert.True(t, started.Equal(found.Transmission.StartedAt))

	found.ClearTransmission()
	require.NoError(t, reg.Save(ctx, found))

	again, err := reg.GetByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Nil(t, again.Transmission)
	assert.False(t, again.Transmitting)
	assert.True(t, again.Consistent())
}

func TestRegistry_LoadAllAndDelete(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	for _, name := range []string{"One", "Two", "Three"} {
		require.NoError(t, reg.Save(ctx, &Channel{Name: name}))
	}

	all, err := reg.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "One", all[0].Name)
	assert.Equal(t, RepeatLoop, all[0].RepeatMode)

	require.NoError(t, reg.DeleteByID(ctx, all[1].ID))
	all, err = reg.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Deleting a missing record is not an error.
	assert.NoError(t, reg.DeleteByID(ctx, 9999))
}

func TestOpenRegistryUnknownDriver(t *testing.T) {
	_, err := OpenRegistry("oracle", "dsn", logging.Discard())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver: oracle")
}
