package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"signally/channel"
	"signally/media"
)

// Still images are held on screen this many seconds per pass.
const imageDuration = 10

func playlistName(id int64) string {
	return fmt.Sprintf("channel_%d.txt", id)
}

// playlistPattern matches the command line of any encoder reading the
// channel's playlist.
func playlistPattern(id int64) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(playlistName(id)) + `(\s|$)`)
}

// quoteConcatPath quotes a path for the concat demuxer.
func quoteConcatPath(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// writePlaylist resolves every content item to its best path and writes a
// concat playlist. Items that resolve to nothing are skipped; the returned
// count is the number of entries written.
func writePlaylist(lib *media.Library, ch *channel.Channel) (string, int, error) {
	var b strings.Builder
	entries := 0
	for _, ref := range ch.Content {
		path, _, ok := lib.Resolve(ref)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "file %s\n", quoteConcatPath(path))
		if media.IsImage(path) {
			fmt.Fprintf(&b, "duration %d\n", imageDuration)
		}
		entries++
	}

	dest := filepath.Join(lib.PlaylistsDir(), playlistName(ch.ID))
	if entries == 0 {
		return dest, 0, nil
	}
	if err := os.MkdirAll(lib.PlaylistsDir(), 0o755); err != nil {
		return "", 0, fmt.Errorf("creating playlist directory: %w", err)
	}

	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return "", 0, fmt.Errorf("writing playlist: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("installing playlist: %w", err)
	}
	return dest, entries, nil
}
