package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestDiskStorageSaveAndOpen(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStorage: %v", err)
	}

	content := []byte("fake png bytes")
	if err := s.Save(ctx, "a.png", bytes.NewReader(content), int64(len(content)), "image/png"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	f, err := s.Open(ctx, "a.png")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("stored bytes = %q, want %q", got, content)
	}
}

func TestDiskStorageNotFound(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStorage: %v", err)
	}

	if _, err := s.Open(ctx, "missing.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open missing = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "missing.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete missing = %v, want ErrNotFound", err)
	}
}

func TestDiskStorageDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStorage: %v", err)
	}

	if err := s.Save(ctx, "a.png", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(ctx, "a.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Open(ctx, "a.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open after delete = %v, want ErrNotFound", err)
	}
}

func TestDiskStorageRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStorage: %v", err)
	}

	for _, name := range []string{"", ".", "..", "a/b.png", `a\b.png`, "a\x00b.png"} {
		if err := s.Save(ctx, name, strings.NewReader("x"), 1, ""); err == nil {
			t.Errorf("Save(%q) accepted", name)
		}
		if _, err := s.Open(ctx, name); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Open(%q) = %v, want validation error", name, err)
		}
		if err := s.Delete(ctx, name); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Delete(%q) = %v, want validation error", name, err)
		}
	}
}

func TestDiskStorageListSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewDiskStorage(dir)
	if err != nil {
		t.Fatalf("NewDiskStorage: %v", err)
	}

	for _, name := range []string{"a.png", "b.jpg"} {
		if err := s.Save(ctx, name, strings.NewReader("x"), 1, ""); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}
	// An in-flight temp file and a subdirectory must not show up.
	if err := os.WriteFile(filepath.Join(dir, ".upload-tmp-123"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	names, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a.png" || names[1] != "b.jpg" {
		t.Errorf("List = %v", names)
	}
}
