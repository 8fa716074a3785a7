package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockTimeout is returned when a record-file lock cannot be acquired
// within the configured bound.
var ErrLockTimeout = errors.New("record lock acquisition timed out")

// ErrCorruptRecord is returned when an existing record file fails to decode.
// The write is aborted and the file is left untouched for the operator;
// resetting to empty would silently discard history.
var ErrCorruptRecord = errors.New("record file is corrupt")

// timedLock is a mutex with bounded acquisition. One token in the channel
// means unlocked.
type timedLock chan struct{}

func newTimedLock() timedLock {
	l := make(timedLock, 1)
	l <- struct{}{}
	return l
}

func (l timedLock) acquire(timeout time.Duration) error {
	select {
	case <-l:
		return nil
	case <-time.After(timeout):
		return ErrLockTimeout
	}
}

func (l timedLock) release() {
	l <- struct{}{}
}

// loadJSON reads path into v. A missing file leaves v at its zero value.
// A file that exists but does not decode is reported as ErrCorruptRecord.
func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptRecord, filepath.Base(path), err)
	}
	return nil
}

// saveJSON writes v to path atomically: temp file in the same directory,
// fsync, then rename over the target. A crash mid-write never leaves a
// half-written record, and readers only ever see complete documents.
func saveJSON(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close record: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace record: %w", err)
	}
	return nil
}
