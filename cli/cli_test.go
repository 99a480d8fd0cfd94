package cli

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"signally/fault"
	"signally/logging"
	"signally/proc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type testEnv struct {
	configPath string
	mediaRoot  string
}

func newTestEnv(t *testing.T, encoder string, ingestPort int) *testEnv {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-ffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+encoder+"\n"), 0o755))

	env := &testEnv{
		configPath: filepath.Join(dir, "signally_config.yaml"),
		mediaRoot:  filepath.Join(dir, "multimedia"),
	}
	cfg := fmt.Sprintf(`FF_BIN: %s
MEDIA_ROOT: %s
REGISTRY_DSN: %s
INGEST_HOST: 127.0.0.1
INGEST_PORT: %d
INGEST_TIMEOUT: 1s
LAUNCH_GRACE: 200ms
TERM_GRACE: 1s
KILL_GRACE: 1s
HLS_BASE_URL: http://tv.local/hls
THROTTLE_FREEDISK: "0"
`, bin, env.mediaRoot, filepath.Join(dir, "channels.db"), ingestPort)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o644))
	return env
}

func (e *testEnv) run(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func startIngest(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestChannelAddAndList(t *testing.T) {
	env := newTestEnv(t, "sleep 30", 1935)

	out, err := env.run("channel", "add", "--name", "Movie Night", "--content", "a.mp4", "--content", "b.png", "--rotation", "90")
	require.NoError(t, err)
	assert.Equal(t, "channel 1 created\n", out)

	out, err = env.run("channel", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"1", "Movie", "Night", "2", "90", "loop", "idle", "-"}, strings.Fields(lines[1]))
}

func TestChannelAddRejectsInvalid(t *testing.T) {
	env := newTestEnv(t, "sleep 30", 1935)

	_, err := env.run("channel", "add", "--name", "Tilted", "--rotation", "45")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrInvalidArgument))

	_, err = env.run("channel", "add", "--name", "Twice", "--repeat", "forever")
	assert.True(t, errors.Is(err, fault.ErrInvalidArgument))

	_, err = env.run("channel", "add", "--content", "a.mp4")
	assert.Error(t, err)
}

func TestChannelCommandsReportKinds(t *testing.T) {
	env := newTestEnv(t, "sleep 30", 1935)

	_, err := env.run("channel", "start", "abc")
	assert.True(t, errors.Is(err, fault.ErrInvalidArgument))

	_, err = env.run("channel", "stop", "9")
	assert.True(t, errors.Is(err, fault.ErrNotFound))

	_, err = env.run("channel", "add", "--name", "Empty")
	require.NoError(t, err)
	_, err = env.run("channel", "start", "1")
	assert.True(t, errors.Is(err, fault.ErrNoContent))

	_, err = env.run("channel", "stop", "1")
	assert.True(t, errors.Is(err, fault.ErrNotTransmitting))

	out, err := env.run("channel", "recover")
	require.NoError(t, err)
	assert.Equal(t, "0 channel(s) cleared\n", out)

	out, err = env.run("channel", "delete", "1")
	require.NoError(t, err)
	assert.Equal(t, "channel 1 deleted\n", out)
}

func TestChannelLifecycleAcrossInvocations(t *testing.T) {
	env := newTestEnv(t, "sleep 30", startIngest(t))
	originals := filepath.Join(env.mediaRoot, "originals")
	require.NoError(t, os.MkdirAll(originals, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(originals, "intro.mp4"), []byte("media"), 0o644))

	_, err := env.run("channel", "add", "--name", "Lobby", "--content", "intro.mp4")
	require.NoError(t, err)

	out, err := env.run("channel", "start", "1")
	require.NoError(t, err)
	var pid int
	_, err = fmt.Sscanf(out, "channel 1 transmitting (pid %d)\n", &pid)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Kill(-pid, unix.SIGKILL) })

	// The encoder outlives the invocation that started it.
	out, err = env.run("channel", "status", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "alive:        true")

	out, err = env.run("lineup")
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n"+
		`#EXTINF:-1 tvg-id="lobby" tvg-name="Lobby" group-title="Signally",Lobby`+"\n"+
		"http://tv.local/hls/lobby.m3u8\n", out)

	_, err = env.run("channel", "delete", "1")
	assert.True(t, errors.Is(err, fault.ErrStillTransmitting))

	out, err = env.run("channel", "stop", "1")
	require.NoError(t, err)
	assert.Equal(t, "channel 1 stopped\n", out)
	assert.False(t, proc.NewTable(logging.Discard()).Alive(pid))

	out, err = env.run("lineup")
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n", out)
}

func TestTranscodeMissingInput(t *testing.T) {
	env := newTestEnv(t, "sleep 30", 1935)

	_, err := env.run("transcode", filepath.Join(env.mediaRoot, "nope.mov"))
	assert.True(t, errors.Is(err, fault.ErrInputMissing))
}

func TestTranscodeFollowsToCompletion(t *testing.T) {
	// The input is not real media so its duration is unknown. The stand-in
	// encoder writes its last argument the way ffmpeg writes the output.
	env := newTestEnv(t, `for last; do :; done; echo progress=end; printf data > "$last"`, 1935)
	input := filepath.Join(t.TempDir(), "clip.mov")
	require.NoError(t, os.WriteFile(input, []byte("media"), 0o644))
	output := filepath.Join(t.TempDir(), "clip.mp4")

	out, err := env.run("transcode", input, "--output", output, "--crf", "23")
	require.NoError(t, err)
	assert.Contains(t, out, "completed: "+output+" (4 bytes)")
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestTranscodeReportsEncoderFailure(t *testing.T) {
	env := newTestEnv(t, `echo "Unknown encoder" >&2; exit 1`, 1935)
	input := filepath.Join(t.TempDir(), "clip.mov")
	require.NoError(t, os.WriteFile(input, []byte("media"), 0o644))
	output := filepath.Join(t.TempDir(), "clip.mp4")

	_, err := env.run("transcode", input, "--output", output)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrEncodeFailure))
	assert.NoFileExists(t, output)
	assert.NoFileExists(t, output+".tmp")
}
