// Package ledger is the record-keeping core of the image host. Every
// accepted upload is persisted three ways: an append-only global log, a
// per-user file index, and a filename → uploader source map. The source map
// is the authority consulted on every list and delete request; the other two
// exist for audit and per-user bookkeeping.
//
// Each record lives in its own JSON document under the records directory.
// A write is a read-merge-write cycle under that document's exclusive lock,
// flushed through a temp file and an atomic rename, so concurrent uploads
// cannot lose each other's updates and a crash cannot leave a half-written
// file. There is no transaction across the three documents: a crash between
// updates can leave them mutually inconsistent, which this design accepts in
// exchange for plain-file storage.
//
// Deleting a stored file never removes its ledger entries. The log, index
// and source map deliberately outlive the bytes as an audit trail.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/SnowBall-Bqiu/IMHO/internal/naming"
)

// Record file names, fixed so operators can find them.
const (
	recordsFile   = "upload_records.json"
	userFilesFile = "user_files.json"
	sourceMapFile = "image_source_map.json"
)

// UploadMethod is the ingress channel an upload arrived through.
type UploadMethod string

const (
	MethodWeb UploadMethod = "web"
	MethodAPI UploadMethod = "api"
	// MethodLegacyAPI marks records imported from the predecessor system;
	// no current ingress path produces it.
	MethodLegacyAPI UploadMethod = "legacy_api"
)

// UploadRecord is one entry in the append-only global log. Entries are never
// mutated or deleted, even after the underlying file is gone.
type UploadRecord struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id"`
	Username         string       `json:"username"`
	Filename         string       `json:"filename"`
	OriginalFilename string       `json:"original_filename"`
	FileSize         int64        `json:"file_size"`
	UploadTime       time.Time    `json:"upload_time"`
	UploadMethod     UploadMethod `json:"upload_method"`
	ClientIP         string       `json:"client_ip"`
}

// UserFileIndex is one user's slice of the per-user index: filenames in
// insertion order without duplicates, plus bookkeeping.
type UserFileIndex struct {
	Username   string    `json:"username"`
	Files      []string  `json:"files"`
	LastUpload time.Time `json:"last_upload"`
	FileCount  int       `json:"file_count"`
}

// SourceEntry records who uploaded a filename. Written once at upload time,
// never updated.
type SourceEntry struct {
	UserID       string       `json:"user_id"`
	Username     string       `json:"username"`
	Role         string       `json:"role"`
	UploadTime   time.Time    `json:"upload_time"`
	UploadMethod UploadMethod `json:"upload_method"`
	ClientIP     string       `json:"client_ip"`
}

// Uploader identifies who performed an upload.
type Uploader struct {
	UserID   string
	Username string
	Role     string
}

// Entry is the input to Record: one accepted upload.
type Entry struct {
	Uploader         Uploader
	Filename         string
	OriginalFilename string
	FileSize         int64
	Method           UploadMethod
	ClientIP         string
}

// Ledger owns the three record documents. One lock per document, covering
// the full read-merge-write cycle; lock acquisition is bounded so a stuck
// writer surfaces ErrLockTimeout instead of hanging requests.
type Ledger struct {
	dir         string
	lockTimeout time.Duration

	recordsLock   timedLock
	userFilesLock timedLock
	sourceMapLock timedLock

	now func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLockTimeout overrides the default 5s lock acquisition bound.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.lockTimeout = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	l := &Ledger{
		dir:           dir,
		lockTimeout:   5 * time.Second,
		recordsLock:   newTimedLock(),
		userFilesLock: newTimedLock(),
		sourceMapLock: newTimedLock(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Record persists one upload across all three documents. The updates run
// sequentially and are individually atomic; if one fails, the earlier ones
// stand (no rollback) and the error is returned.
func (l *Ledger) Record(e Entry) error {
	now := l.now()

	rec := UploadRecord{
		ID:               uuid.NewString(),
		UserID:           e.Uploader.UserID,
		Username:         e.Uploader.Username,
		Filename:         e.Filename,
		OriginalFilename: e.OriginalFilename,
		FileSize:         e.FileSize,
		UploadTime:       now,
		UploadMethod:     e.Method,
		ClientIP:         e.ClientIP,
	}
	if err := l.appendRecord(rec); err != nil {
		return fmt.Errorf("append upload record: %w", err)
	}

	if err := l.indexUserFile(e.Uploader, e.Filename, now); err != nil {
		return fmt.Errorf("update user file index: %w", err)
	}

	src := SourceEntry{
		UserID:       e.Uploader.UserID,
		Username:     e.Uploader.Username,
		Role:         e.Uploader.Role,
		UploadTime:   now,
		UploadMethod: e.Method,
		ClientIP:     e.ClientIP,
	}
	if err := l.putSource(e.Filename, src); err != nil {
		return fmt.Errorf("update source map: %w", err)
	}

	return nil
}

// appendRecord adds one entry to the global log.
func (l *Ledger) appendRecord(rec UploadRecord) error {
	if err := l.recordsLock.acquire(l.lockTimeout); err != nil {
		return err
	}
	defer l.recordsLock.release()

	path := filepath.Join(l.dir, recordsFile)
	var records []UploadRecord
	if err := loadJSON(path, &records); err != nil {
		return err
	}
	records = append(records, rec)
	return saveJSON(path, records)
}

// indexUserFile appends a filename to the user's index. A filename already
// present leaves the index untouched, bookkeeping included.
func (l *Ledger) indexUserFile(u Uploader, filename string, now time.Time) error {
	if err := l.userFilesLock.acquire(l.lockTimeout); err != nil {
		return err
	}
	defer l.userFilesLock.release()

	path := filepath.Join(l.dir, userFilesFile)
	userFiles := make(map[string]*UserFileIndex)
	if err := loadJSON(path, &userFiles); err != nil {
		return err
	}

	idx, ok := userFiles[u.UserID]
	if !ok {
		idx = &UserFileIndex{Username: u.Username}
		userFiles[u.UserID] = idx
	}
	for _, f := range idx.Files {
		if f == filename {
			return nil
		}
	}
	idx.Files = append(idx.Files, filename)
	idx.LastUpload = now
	idx.FileCount = len(idx.Files)

	return saveJSON(path, userFiles)
}

// putSource inserts (or overwrites) the filename's source map entry.
func (l *Ledger) putSource(filename string, src SourceEntry) error {
	if err := l.sourceMapLock.acquire(l.lockTimeout); err != nil {
		return err
	}
	defer l.sourceMapLock.release()

	path := filepath.Join(l.dir, sourceMapFile)
	sourceMap := make(map[string]SourceEntry)
	if err := loadJSON(path, &sourceMap); err != nil {
		return err
	}
	sourceMap[filename] = src
	return saveJSON(path, sourceMap)
}

// GetSource resolves a filename to its uploader. A source map hit is
// authoritative; on a miss the filename's own encoding is parsed as a
// best-effort fallback, so the result is never "not found" — at worst the
// uploader comes back as "unknown".
func (l *Ledger) GetSource(filename string) SourceEntry {
	sourceMap := make(map[string]SourceEntry)
	// Reads go lock-free: record files are replaced atomically, so any
	// snapshot read is a complete document. A corrupt file degrades to the
	// parse fallback here; writes against it still fail loudly.
	if err := loadJSON(filepath.Join(l.dir, sourceMapFile), &sourceMap); err == nil {
		if src, ok := sourceMap[filename]; ok {
			return src
		}
	}

	parsed := naming.Parse(filename)
	src := SourceEntry{UserID: parsed.UserID}
	if parsed.Timestamp > 0 {
		src.UploadTime = time.Unix(parsed.Timestamp, 0)
	}
	return src
}

// HasSource reports whether the filename has a real source map entry, as
// opposed to what the parse fallback would fabricate.
func (l *Ledger) HasSource(filename string) bool {
	sourceMap := make(map[string]SourceEntry)
	if err := loadJSON(filepath.Join(l.dir, sourceMapFile), &sourceMap); err != nil {
		return false
	}
	_, ok := sourceMap[filename]
	return ok
}

// Records returns the global log in append order.
func (l *Ledger) Records() ([]UploadRecord, error) {
	var records []UploadRecord
	if err := loadJSON(filepath.Join(l.dir, recordsFile), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// UserFiles returns one user's index slice, or nil when the user has no uploads.
func (l *Ledger) UserFiles(userID string) (*UserFileIndex, error) {
	userFiles := make(map[string]*UserFileIndex)
	if err := loadJSON(filepath.Join(l.dir, userFilesFile), &userFiles); err != nil {
		return nil, err
	}
	return userFiles[userID], nil
}
