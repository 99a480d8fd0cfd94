package channel

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
)

const lineupGroup = "Signally"

// WriteLineup writes an extended M3U listing every transmitting channel as an
// HLS stream under hlsBaseURL.
func WriteLineup(w io.Writer, channels []*Channel, hlsBaseURL string) error {
	base := strings.TrimRight(hlsBaseURL, "/")
	if _, err := io.WriteString(w, "#EXTM3U\n"); err != nil {
		return err
	}
	for _, ch := range channels {
		if !ch.Transmitting {
			continue
		}
		name := ch.StreamName()
		_, err := fmt.Fprintf(w, "#EXTINF:-1 tvg-id=%q tvg-name=%q group-title=%q,%s\n%s/%s.m3u8\n",
			name, ch.Name, lineupGroup, ch.Name, base, name)
		if err != nil {
			return err
		}
	}
	return nil
}

// LineupTracker remembers the hash of the last lineup it saw.
type LineupTracker struct {
	mu   sync.Mutex
	last string
}

// Update renders the lineup and reports whether it differs from the previous
// call. The first call always reports a change.
func (t *LineupTracker) Update(channels []*Channel, hlsBaseURL string) (lineup []byte, changed bool, err error) {
	var buf bytes.Buffer
	if err := WriteLineup(&buf, channels, hlsBaseURL); err != nil {
		return nil, false, err
	}
	sum := md5.Sum(buf.Bytes())
	hash := hex.EncodeToString(sum[:])

	t.mu.Lock()
	defer t.mu.Unlock()
	changed = hash != t.last
	t.last = hash
	return buf.Bytes(), changed, nil
}
