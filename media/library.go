// Package media owns the on-disk layout: uploaded originals, their transcoded
// renditions and a temp area for playlists and encoder logs.
//
// A transcoded rendition is always named <base-name-of-original>.mp4, so it can
// be found from the original's name alone.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TranscodedExt is the extension of every transcoded rendition.
const TranscodedExt = ".mp4"

var (
	videoExts = map[string]bool{".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true, ".m4v": true}
	imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true}
)

// IsVideo reports whether name has a video extension.
func IsVideo(name string) bool { return videoExts[strings.ToLower(filepath.Ext(name))] }

// IsImage reports whether name has a still image extension.
func IsImage(name string) bool { return imageExts[strings.ToLower(filepath.Ext(name))] }

type Library struct {
	root string
}

func NewLibrary(root string) *Library {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	return &Library{root: abs}
}

func (l *Library) Root() string          { return l.root }
func (l *Library) OriginalsDir() string  { return filepath.Join(l.root, "originals") }
func (l *Library) TranscodedDir() string { return filepath.Join(l.root, "transcoded") }
func (l *Library) TempDir() string       { return filepath.Join(l.root, "temp") }
func (l *Library) PlaylistsDir() string  { return filepath.Join(l.TempDir(), "playlists") }
func (l *Library) LogsDir() string       { return filepath.Join(l.TempDir(), "logs") }

// Ensure creates every directory of the layout.
func (l *Library) Ensure() error {
	for _, dir := range []string{l.OriginalsDir(), l.TranscodedDir(), l.PlaylistsDir(), l.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// OriginalPath maps a content reference (bare name or path) to the originals directory.
func (l *Library) OriginalPath(ref string) string {
	return filepath.Join(l.OriginalsDir(), filepath.Base(ref))
}

// TranscodedPath derives the rendition path for an original.
func (l *Library) TranscodedPath(ref string) string {
	base := filepath.Base(ref)
	return filepath.Join(l.TranscodedDir(), strings.TrimSuffix(base, filepath.Ext(base))+TranscodedExt)
}

// Transcoded returns the rendition path of ref if one exists and is non-empty.
func (l *Library) Transcoded(ref string) (string, bool) {
	path := l.TranscodedPath(ref)
	if nonEmptyFile(path) {
		return path, true
	}
	return "", false
}

// Resolve returns the best playable path for a content reference: the
// transcoded rendition of a video when one is present and non-empty, else the
// original. ok is false when neither exists.
func (l *Library) Resolve(ref string) (path string, transcoded bool, ok bool) {
	if IsVideo(ref) {
		if p, found := l.Transcoded(ref); found {
			return p, true, true
		}
	}

	candidates := []string{l.OriginalPath(ref)}
	if filepath.IsAbs(ref) {
		candidates = append(candidates, ref)
	}
	for _, c := range candidates {
		if nonEmptyFile(c) {
			return c, false, true
		}
	}
	return "", false, false
}

// Pending lists video originals that have no usable transcoded rendition yet,
// sorted by name.
func (l *Library) Pending() ([]string, error) {
	entries, err := os.ReadDir(l.OriginalsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading originals: %w", err)
	}

	var pending []string
	for _, e := range entries {
		if e.IsDir() || !IsVideo(e.Name()) {
			continue
		}
		if _, ok := l.Transcoded(e.Name()); ok {
			continue
		}
		pending = append(pending, filepath.Join(l.OriginalsDir(), e.Name()))
	}
	sort.Strings(pending)
	return pending, nil
}

func nonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
