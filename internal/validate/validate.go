// Package validate enforces the upload admission policy: a size ceiling and
// an extension allowlist grouped by category. Matching is by the lowercased
// substring after the last dot only; no content sniffing happens here.
package validate

import (
	"errors"
	"fmt"

	"github.com/SnowBall-Bqiu/IMHO/internal/naming"
)

// ErrTooLarge is returned when the declared size exceeds the policy ceiling.
var ErrTooLarge = errors.New("file size exceeds limit")

// ErrUnsupportedType is returned when the extension matches no category.
var ErrUnsupportedType = errors.New("unsupported file type")

// Policy is the configured admission policy.
type Policy struct {
	MaxFileSize int64
	Types       map[string][]string // category → extensions, e.g. "image" → jpg, png, ...
}

// Validate checks a declared upload against the policy. Size is checked
// first, so an oversized file is rejected as too large regardless of type.
func (p Policy) Validate(filename string, declaredSize int64) error {
	if declaredSize > p.MaxFileSize {
		return fmt.Errorf("%w (max %dMB)", ErrTooLarge, p.MaxFileSize/1024/1024)
	}
	if _, ok := p.Category(naming.Ext(filename)); !ok {
		return ErrUnsupportedType
	}
	return nil
}

// Category returns the category an extension belongs to, if any.
func (p Policy) Category(ext string) (string, bool) {
	for category, exts := range p.Types {
		for _, e := range exts {
			if e == ext {
				return category, true
			}
		}
	}
	return "", false
}
