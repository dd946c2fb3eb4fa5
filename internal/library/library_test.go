package library

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperr "karaoke/internal/errors"
)

func setupLibrary(t *testing.T) *Library {
	t.Helper()

	lib, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create library: %v", err)
	}
	return lib
}

func TestSongDir_CreatesDirectory(t *testing.T) {
	lib := setupLibrary(t)

	dir, err := lib.SongDir("s1")
	if err != nil {
		t.Fatalf("SongDir: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("song dir should exist: %v", err)
	}
	if filepath.Base(dir) != "s1" {
		t.Errorf("dir = %s, want basename s1", dir)
	}
}

func TestResolve_RejectsTraversal(t *testing.T) {
	lib := setupLibrary(t)

	bad := []string{"../etc", "..", "a/../../b", "x/y", `x\y`, "", "."}
	for _, id := range bad {
		if _, err := lib.SongDir(id); err == nil {
			t.Errorf("SongDir(%q) should be rejected", id)
		} else if apperr.Code(err) != "SECURITY_VIOLATION" {
			t.Errorf("SongDir(%q) code = %s, want SECURITY_VIOLATION", id, apperr.Code(err))
		}
	}
}

func TestResolveTrack_ProbesExtensions(t *testing.T) {
	lib := setupLibrary(t)
	dir, _ := lib.SongDir("s1")

	if _, err := lib.ResolveTrack("s1", TrackVocals); !apperr.IsNotFound(err) {
		t.Errorf("missing track should be NotFound, got %v", err)
	}

	// Empty files are not servable artifacts.
	if err := os.WriteFile(filepath.Join(dir, "vocals.mp3"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := lib.ResolveTrack("s1", TrackVocals); !apperr.IsNotFound(err) {
		t.Errorf("empty track should be NotFound, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "vocals.wav"), []byte("riff"), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := lib.ResolveTrack("s1", TrackVocals)
	if err != nil {
		t.Fatalf("ResolveTrack: %v", err)
	}
	if !strings.HasSuffix(p, "vocals.wav") {
		t.Errorf("resolved %s, want vocals.wav", p)
	}
}

func TestResolveImage_PreferenceOrder(t *testing.T) {
	lib := setupLibrary(t)
	dir, _ := lib.SongDir("s1")

	os.WriteFile(filepath.Join(dir, "cover.png"), []byte("png"), 0644)
	os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("jpg"), 0644)

	p, mime, err := lib.ResolveImage("s1", "cover")
	if err != nil {
		t.Fatalf("ResolveImage: %v", err)
	}
	if !strings.HasSuffix(p, "cover.jpg") || mime != "image/jpeg" {
		t.Errorf("resolved (%s, %s), want cover.jpg image/jpeg", p, mime)
	}

	// webp outranks jpg once present.
	os.WriteFile(filepath.Join(dir, "cover.webp"), []byte("webp"), 0644)
	p, mime, err = lib.ResolveImage("s1", "cover")
	if err != nil {
		t.Fatalf("ResolveImage: %v", err)
	}
	if !strings.HasSuffix(p, "cover.webp") || mime != "image/webp" {
		t.Errorf("resolved (%s, %s), want cover.webp image/webp", p, mime)
	}
}

func TestDeleteSong_AbsentIsSuccess(t *testing.T) {
	lib := setupLibrary(t)

	if err := lib.DeleteSong("never-created"); err != nil {
		t.Errorf("DeleteSong on absent dir: %v", err)
	}

	dir, _ := lib.SongDir("s1")
	os.WriteFile(filepath.Join(dir, "original.mp3"), []byte("x"), 0644)
	if err := lib.DeleteSong("s1"); err != nil {
		t.Fatalf("DeleteSong: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("song dir should be gone")
	}
}

func TestListSongIDs(t *testing.T) {
	lib := setupLibrary(t)
	lib.SongDir("a")
	lib.SongDir("b")
	os.WriteFile(filepath.Join(lib.Root(), "stray.txt"), []byte("x"), 0644)

	ids, err := lib.ListSongIDs()
	if err != nil {
		t.Fatalf("ListSongIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("got %d ids, want 2 (files ignored)", len(ids))
	}
}

func TestWriteFileAtomic_NoPartialFiles(t *testing.T) {
	lib := setupLibrary(t)
	dir, _ := lib.SongDir("s1")

	target := filepath.Join(dir, "cover.jpg")
	if err := WriteFileAtomic(target, []byte("image-bytes")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil || string(data) != "image-bytes" {
		t.Fatalf("read back %q, %v", data, err)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestSniffImageExt(t *testing.T) {
	jpg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 16)...)
	png := append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 16)...)
	junk := []byte("<html>not an image</html>")

	if ext, ok := SniffImageExt(jpg); !ok || ext != ".jpg" {
		t.Errorf("jpeg sniff = (%q, %v)", ext, ok)
	}
	if ext, ok := SniffImageExt(png); !ok || ext != ".png" {
		t.Errorf("png sniff = (%q, %v)", ext, ok)
	}
	if _, ok := SniffImageExt(junk); ok {
		t.Error("html should not sniff as an image")
	}
	// A RIFF header claiming WebP must still pass the decode probe.
	badWebp := append([]byte("RIFF\x00\x00\x00\x00WEBP"), []byte("nope")...)
	if _, ok := SniffImageExt(badWebp); ok {
		t.Error("invalid webp payload should be rejected")
	}
}

func TestRelative(t *testing.T) {
	lib := setupLibrary(t)
	p := lib.VocalsPath("s1", ".mp3")
	if got := lib.Relative(p); got != "s1/vocals.mp3" {
		t.Errorf("Relative = %q, want s1/vocals.mp3", got)
	}
}
