// Package upload orchestrates the upload, list, and delete flows: admission
// policy, filename allocation, storage, ledger record-keeping, and the
// per-file authorization decisions on top of them.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/SnowBall-Bqiu/IMHO/internal/access"
	"github.com/SnowBall-Bqiu/IMHO/internal/auditlog"
	"github.com/SnowBall-Bqiu/IMHO/internal/keystore"
	"github.com/SnowBall-Bqiu/IMHO/internal/ledger"
	"github.com/SnowBall-Bqiu/IMHO/internal/naming"
	"github.com/SnowBall-Bqiu/IMHO/internal/storage"
	"github.com/SnowBall-Bqiu/IMHO/internal/urls"
	"github.com/SnowBall-Bqiu/IMHO/internal/validate"
)

// ErrForbidden is returned when the user may not manage the file.
var ErrForbidden = errors.New("no permission to manage this file")

// Service wires the upload pipeline together.
type Service struct {
	policy   validate.Policy
	store    storage.Storage
	ledger   *ledger.Ledger
	resolver *urls.Resolver
	audit    *auditlog.Logger
	now      func() time.Time
}

// NewService creates the upload Service.
func NewService(policy validate.Policy, store storage.Storage, ldg *ledger.Ledger, resolver *urls.Resolver, audit *auditlog.Logger) *Service {
	return &Service{
		policy:   policy,
		store:    store,
		ledger:   ldg,
		resolver: resolver,
		audit:    audit,
		now:      time.Now,
	}
}

// Upload admits one file: validate, allocate a name, move the bytes into
// storage, then record the upload in the ledger. Returns the stored
// filename. A ledger failure after the bytes are stored is surfaced as an
// error; the stored file stays (no rollback), matching the ledger's
// best-effort sequential model.
func (s *Service) Upload(ctx context.Context, u *keystore.UserInfo, method ledger.UploadMethod, originalName string, size int64, r io.Reader, contentType, clientIP string) (string, error) {
	if err := s.policy.Validate(originalName, size); err != nil {
		s.audit.Error(clientIP, "upload rejected for %s: %v", u.Username, err)
		return "", err
	}

	var filename string
	var err error
	if method == ledger.MethodWeb {
		filename = naming.AllocateWeb(u.Username, originalName, s.now())
	} else {
		filename, err = naming.AllocateAPI(u.UserID, originalName, s.now())
		if err != nil {
			return "", err
		}
	}

	if err := s.store.Save(ctx, filename, r, size, contentType); err != nil {
		s.audit.Error(clientIP, "store %s failed: %v", filename, err)
		return "", fmt.Errorf("store upload: %w", err)
	}

	err = s.ledger.Record(ledger.Entry{
		Uploader: ledger.Uploader{
			UserID:   u.UserID,
			Username: u.Username,
			Role:     string(u.Role),
		},
		Filename:         filename,
		OriginalFilename: originalName,
		FileSize:         size,
		Method:           method,
		ClientIP:         clientIP,
	})
	if err != nil {
		s.audit.Error(clientIP, "record %s failed: %v", filename, err)
		return "", err
	}

	s.audit.Info(clientIP, "user %s uploaded %s (%d bytes, %s)", u.Username, filename, size, method)
	return filename, nil
}

// FileEntry is one row of the file listing.
type FileEntry struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Type         string    `json:"type"`
	Extension    string    `json:"extension"`
	CanManage    bool      `json:"can_manage"`
	Uploader     string    `json:"uploader"`
	UploadTime   time.Time `json:"upload_time"`
	UploadMethod string    `json:"upload_method"`
}

// ListFiles returns the files visible to the user: every stored file whose
// extension is in the allowlist and whose recorded owner the user may view.
// Admins see everything; regular users see only their own uploads.
func (s *Service) ListFiles(ctx context.Context, u *keystore.UserInfo) ([]FileEntry, error) {
	names, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored files: %w", err)
	}

	entries := make([]FileEntry, 0, len(names))
	for _, name := range names {
		ext := naming.Ext(name)
		category, ok := s.policy.Category(ext)
		if !ok {
			continue
		}

		src := s.ledger.GetSource(name)
		if !access.CanView(u, src.UserID) {
			continue
		}

		uploader := src.Username
		if uploader == "" {
			uploader = src.UserID
		}
		entries = append(entries, FileEntry{
			Name:         name,
			URL:          s.resolver.Canonical(name),
			Type:         category,
			Extension:    ext,
			CanManage:    access.CanManage(u, src.UserID),
			Uploader:     uploader,
			UploadTime:   src.UploadTime,
			UploadMethod: string(src.UploadMethod),
		})
	}
	return entries, nil
}

// Delete removes the stored bytes if the user owns the file (or is admin).
// The ledger entries stay behind as the audit trail; only the file goes.
// Ownership comes from the source map, for web and API deletes alike.
func (s *Service) Delete(ctx context.Context, u *keystore.UserInfo, filename, clientIP string) error {
	src := s.ledger.GetSource(filename)
	if !access.CanManage(u, src.UserID) {
		s.audit.Error(clientIP, "user %s denied delete of %s (owner %s)", u.Username, filename, src.UserID)
		return ErrForbidden
	}

	if err := s.store.Delete(ctx, filename); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.audit.Error(clientIP, "delete %s failed: %v", filename, err)
		}
		return err
	}

	s.audit.Info(clientIP, "user %s deleted %s", u.Username, filename)
	return nil
}

// Resolver exposes the URL resolver for handlers that shape responses.
func (s *Service) Resolver() *urls.Resolver {
	return s.resolver
}
