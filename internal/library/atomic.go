package library

import (
	"io"
	"os"
	"path/filepath"

	apperr "karaoke/internal/errors"
)

// WriteFileAtomic writes data to path via a temp file in the same
// directory, fsyncs, then renames. Readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	return writeAtomic(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// CopyFileAtomic copies src to dst with the same temp-fsync-rename
// discipline.
func CopyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return apperr.Wrap("library.CopyFileAtomic", err)
	}
	defer in.Close()

	return writeAtomic(dst, func(f *os.File) error {
		_, err := io.Copy(f, in)
		return err
	})
}

func writeAtomic(path string, fill func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperr.Wrap("library.writeAtomic", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return apperr.Wrap("library.writeAtomic", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := fill(tmp); err != nil {
		cleanup()
		return apperr.Wrap("library.writeAtomic", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return apperr.Wrap("library.writeAtomic", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperr.Wrap("library.writeAtomic", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return apperr.Wrap("library.writeAtomic", err)
	}
	return nil
}
