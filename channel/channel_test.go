package channel

import (
	"bytes"
	"errors"
	"testing"

	"signally/fault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		ch      Channel
		wantErr bool
	}{
		{"valid", Channel{Name: "Lobby", Rotation: 180, RepeatMode: RepeatOnce}, false},
		{"defaults repeat mode", Channel{Name: "Lobby"}, false},
		{"missing name", Channel{Name: "  "}, true},
		{"bad rotation", Channel{Name: "Lobby", Rotation: 45}, true},
		{"bad repeat mode", Channel{Name: "Lobby", RepeatMode: "shuffle"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ch.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, fault.ErrInvalidArgument))
				return
			}
			assert.NoError(t, err)
			assert.NotEmpty(t, tt.ch.RepeatMode)
		})
	}
}

func TestStreamName(t *testing.T) {
	ch := &Channel{Name: " Lobby Screen 2 "}
	assert.Equal(t, "lobby_screen_2", ch.StreamName())
}

func TestTransmissionFieldsMoveTogether(t *testing.T) {
	ch := &Channel{Name: "x"}
	assert.True(t, ch.Consistent())

	ch.SetTransmission(Transmission{Pid: 10})
	assert.True(t, ch.Transmitting)
	assert.True(t, ch.Consistent())

	ch.Transmission = nil
	assert.False(t, ch.Consistent())

	ch.ClearTransmission()
	assert.True(t, ch.Consistent())
	assert.False(t, ch.Transmitting)
}

func TestWriteLineup(t *testing.T) {
	channels := []*Channel{
		{ID: 1, Name: "Lobby Screen", Transmitting: true, Transmission: &Transmission{Pid: 1}},
		{ID: 2, Name: "Idle"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteLineup(&buf, channels, "http://media.local/hls/"))

	want := "#EXTM3U\n" +
		`#EXTINF:-1 tvg-id="lobby_screen" tvg-name="Lobby Screen" group-title="Signally",Lobby Screen` + "\n" +
		"http://media.local/hls/lobby_screen.m3u8\n"
	assert.Equal(t, want, buf.String())
}

func TestLineupTracker(t *testing.T) {
	var tracker LineupTracker
	channels := []*Channel{{ID: 1, Name: "A", Transmitting: true, Transmission: &Transmission{Pid: 1}}}

	_, changed, err := tracker.Update(channels, "http://h/hls")
	require.NoError(t, err)
	assert.True(t, changed)

	_, changed, err = tracker.Update(channels, "http://h/hls")
	require.NoError(t, err)
	assert.False(t, changed)

	channels[0].ClearTransmission()
	lineup, changed, err := tracker.Update(channels, "http://h/hls")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "#EXTM3U\n", string(lineup))
}
