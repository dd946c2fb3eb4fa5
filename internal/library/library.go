// Package library manages the on-disk song artifact layout under the
// library root: library/<song_id>/{original,vocals,instrumental}.<ext>
// plus thumbnail and cover images.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperr "karaoke/internal/errors"
)

// TrackKind identifies an audio artifact within a song directory.
type TrackKind string

const (
	TrackOriginal     TrackKind = "original"
	TrackVocals       TrackKind = "vocals"
	TrackInstrumental TrackKind = "instrumental"
)

// ValidTrack reports whether kind names a servable audio artifact.
func ValidTrack(kind string) bool {
	switch TrackKind(kind) {
	case TrackOriginal, TrackVocals, TrackInstrumental:
		return true
	}
	return false
}

// ImageFormat describes one supported image extension. The same table
// drives the downloader's thumbnail selection and the HTTP handler's
// format probing, keeping their preference order identical.
type ImageFormat struct {
	Ext        string
	MIME       string
	Preference int // higher wins
}

// ImageFormats is ordered by probing preference.
var ImageFormats = []ImageFormat{
	{Ext: ".webp", MIME: "image/webp", Preference: 40},
	{Ext: ".jpg", MIME: "image/jpeg", Preference: 30},
	{Ext: ".jpeg", MIME: "image/jpeg", Preference: 20},
	{Ext: ".png", MIME: "image/png", Preference: 10},
}

// MIMEForExt returns the content type for a supported image extension,
// or empty string if the extension is unknown.
func MIMEForExt(ext string) string {
	for _, f := range ImageFormats {
		if strings.EqualFold(f.Ext, ext) {
			return f.MIME
		}
	}
	return ""
}

// AudioMIME maps audio artifact extensions to content types.
func AudioMIME(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// Library provides canonical paths for song artifacts rooted at a single
// directory. Two songs never share paths, so concurrent workers touching
// different songs are safe.
type Library struct {
	root string
}

// New creates the library rooted at dir, creating it if needed.
func New(dir string) (*Library, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, apperr.Wrap("library.New", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, apperr.Wrap("library.New", err)
	}
	return &Library{root: abs}, nil
}

// Root returns the absolute library root.
func (l *Library) Root() string {
	return l.root
}

// SongDir creates (if needed) and returns the directory for a song.
func (l *Library) SongDir(songID string) (string, error) {
	dir, err := l.resolve(songID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperr.Wrap("library.SongDir", err)
	}
	return dir, nil
}

// OriginalPath returns the canonical original-track path for ext
// (".mp3" unless the upload used another format).
func (l *Library) OriginalPath(songID, ext string) string {
	return filepath.Join(l.root, songID, "original"+ext)
}

// VocalsPath returns the canonical vocals stem path.
func (l *Library) VocalsPath(songID, ext string) string {
	return filepath.Join(l.root, songID, "vocals"+ext)
}

// InstrumentalPath returns the canonical instrumental stem path.
func (l *Library) InstrumentalPath(songID, ext string) string {
	return filepath.Join(l.root, songID, "instrumental"+ext)
}

// ThumbnailPath returns the thumbnail path for ext.
func (l *Library) ThumbnailPath(songID, ext string) string {
	return filepath.Join(l.root, songID, "thumbnail"+ext)
}

// CoverPath returns the cover art path for ext.
func (l *Library) CoverPath(songID, ext string) string {
	return filepath.Join(l.root, songID, "cover"+ext)
}

// ResolveTrack finds the audio artifact for (songID, kind) by probing
// known audio extensions, and guards against path traversal: the result
// is always a descendant of the library root.
func (l *Library) ResolveTrack(songID string, kind TrackKind) (string, error) {
	dir, err := l.resolve(songID)
	if err != nil {
		return "", err
	}

	for _, ext := range []string{".mp3", ".wav", ".flac", ".ogg", ".m4a"} {
		p := filepath.Join(dir, string(kind)+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() && info.Size() > 0 {
			return p, nil
		}
	}
	return "", apperr.NewWithMessage("library.ResolveTrack", apperr.ErrNotFound,
		fmt.Sprintf("no %s track for song %s", kind, songID))
}

// ResolveImage finds the cover or thumbnail for a song, probing the
// formats in preference order. name is "cover" or "thumbnail".
func (l *Library) ResolveImage(songID, name string) (path, mime string, err error) {
	dir, err := l.resolve(songID)
	if err != nil {
		return "", "", err
	}

	for _, f := range ImageFormats {
		p := filepath.Join(dir, name+f.Ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() && info.Size() > 0 {
			return p, f.MIME, nil
		}
	}
	return "", "", apperr.NewWithMessage("library.ResolveImage", apperr.ErrNotFound,
		fmt.Sprintf("no %s image for song %s", name, songID))
}

// DeleteSong removes a song directory recursively. A missing directory
// is success.
func (l *Library) DeleteSong(songID string) error {
	dir, err := l.resolve(songID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return apperr.Wrap("library.DeleteSong", err)
	}
	return nil
}

// ListSongIDs returns the directory names directly under the root.
func (l *Library) ListSongIDs() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, apperr.Wrap("library.ListSongIDs", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Relative converts an absolute artifact path to its library-relative
// form as stored on the song row.
func (l *Library) Relative(path string) string {
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// resolve joins songID onto the root and rejects any result that
// escapes it.
func (l *Library) resolve(songID string) (string, error) {
	if songID == "" {
		return "", apperr.NewWithCode("library.resolve", apperr.ErrAccessDenied,
			"SECURITY_VIOLATION", "empty song id")
	}
	joined := filepath.Join(l.root, songID)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", apperr.Wrap("library.resolve", err)
	}
	if abs != l.root && !strings.HasPrefix(abs, l.root+string(filepath.Separator)) {
		return "", apperr.NewWithCode("library.resolve", apperr.ErrAccessDenied,
			"SECURITY_VIOLATION", "path escapes library root")
	}
	// A song id that resolves to the root itself (".", "/") is no better.
	if abs == l.root {
		return "", apperr.NewWithCode("library.resolve", apperr.ErrAccessDenied,
			"SECURITY_VIOLATION", "path escapes library root")
	}
	// Reject ids that smuggle separators past the prefix check.
	if strings.ContainsAny(songID, `/\`) || strings.Contains(songID, "..") {
		return "", apperr.NewWithCode("library.resolve", apperr.ErrAccessDenied,
			"SECURITY_VIOLATION", "song id contains path separators")
	}
	return abs, nil
}
