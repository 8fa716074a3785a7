package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DiskStorage keeps stored files in a single flat directory. This is the
// default backend and matches how the service has always laid files out on
// disk: one directory, filenames straight from the allocator.
type DiskStorage struct {
	dir string
}

// NewDiskStorage creates the directory if needed and returns a ready store.
func NewDiskStorage(dir string) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStorage{dir: dir}, nil
}

// validFilename rejects anything that could escape the flat directory.
// Allocated names never contain separators, so this only bites on
// caller-supplied names (delete, open).
func (s *DiskStorage) validFilename(filename string) error {
	if filename == "" ||
		strings.ContainsAny(filename, "/\\\x00") ||
		filename == "." || filename == ".." {
		return fmt.Errorf("invalid filename %q", filename)
	}
	return nil
}

// Save streams r into the directory under filename. Data goes through a
// unique temp file, gets flushed to disk, then is renamed over the target,
// so a crash never leaves a partial file visible.
func (s *DiskStorage) Save(_ context.Context, filename string, r io.Reader, _ int64, _ string) error {
	if err := s.validFilename(filename); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, filename)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store upload: %w", err)
	}
	return nil
}

// Open returns a reader over the stored file.
func (s *DiskStorage) Open(_ context.Context, filename string) (io.ReadCloser, error) {
	if err := s.validFilename(filename); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, filename))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	return f, nil
}

// Delete removes the stored file.
func (s *DiskStorage) Delete(_ context.Context, filename string) error {
	if err := s.validFilename(filename); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, filename))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete stored file: %w", err)
	}
	return nil
}

// List returns every stored filename, skipping temp files still in flight.
func (s *DiskStorage) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list upload dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Path returns the absolute on-disk path of a stored file, for handlers that
// serve bytes directly.
func (s *DiskStorage) Path(filename string) (string, error) {
	if err := s.validFilename(filename); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filename), nil
}
