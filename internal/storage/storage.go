// Package storage holds the stored image bytes, keyed by filename. The
// default backend is a flat local directory; an S3-compatible backend covers
// installs that keep images in object storage. Swap implementations by
// changing the concrete type injected at startup.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no stored file exists under the filename.
var ErrNotFound = errors.New("stored file not found")

// Storage is the interface for saving and retrieving stored files.
type Storage interface {
	// Save streams data into the store under filename. size must be the
	// exact byte count when known; pass -1 otherwise.
	Save(ctx context.Context, filename string, r io.Reader, size int64, contentType string) error
	// Open returns a reader over the stored file, or ErrNotFound.
	Open(ctx context.Context, filename string) (io.ReadCloser, error)
	// Delete removes the stored file. Deleting a missing file returns
	// ErrNotFound; ledger records are never touched here.
	Delete(ctx context.Context, filename string) error
	// List returns every stored filename.
	List(ctx context.Context) ([]string, error)
}
