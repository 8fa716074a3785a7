// Package naming derives stored filenames that encode uploader and time, and
// parses that encoding back out. Two schemes coexist: API uploads carry the
// user_id and a unix timestamp, web uploads carry the username and a
// second-resolution wall-clock stamp plus a sanitized slice of the original
// name. Both are readable without consulting the source map, which uses
// Parse as its fallback for files whose map entry is missing.
package naming

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const maxStemLen = 20

var stemFilter = regexp.MustCompile(`[^A-Za-z0-9-]`)

// AllocateAPI names an API-channel upload:
// {user_id}_{unix_timestamp}_img_{8 hex chars}.{ext}.
// The timestamp plus 32 bits of randomness stand in for a collision check;
// there is no retry loop.
func AllocateAPI(userID, originalFilename string, now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("allocate filename: %w", err)
	}
	return fmt.Sprintf("%s_%d_img_%s.%s",
		userID, now.Unix(), hex.EncodeToString(buf), Ext(originalFilename)), nil
}

// AllocateWeb names a web-channel upload:
// {username}_{YYYYMMDDHHMMSS}_{sanitized original stem}.{ext}.
// The stem keeps only ASCII alphanumerics and hyphens, capped at 20 chars.
func AllocateWeb(username, originalFilename string, now time.Time) string {
	stem := originalFilename
	if i := strings.LastIndex(stem, "."); i >= 0 {
		stem = stem[:i]
	}
	stem = stemFilter.ReplaceAllString(stem, "")
	if len(stem) > maxStemLen {
		stem = stem[:maxStemLen]
	}
	return fmt.Sprintf("%s_%s_%s.%s",
		username, now.Format("20060102150405"), stem, Ext(originalFilename))
}

// Ext returns the lowercased extension after the last dot, without the dot.
// Empty when the name has no dot.
func Ext(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

// ParsedSource is the uploader identity recovered from a filename alone.
type ParsedSource struct {
	UserID    string
	Timestamp int64
	Filename  string
}

// Known reports whether parsing actually recovered an uploader.
func (p ParsedSource) Known() bool {
	return p.UserID != "unknown"
}

// Parse recovers the uploader encoded in a filename. Split on "_": field 0 is
// the user id, field 1 the timestamp. Filenames with fewer than three fields
// or a non-positive timestamp yield user_id "unknown" and timestamp 0; Parse
// never fails outright.
func Parse(filename string) ParsedSource {
	parts := strings.Split(filename, "_")
	if len(parts) >= 3 {
		if ts, err := strconv.ParseInt(parts[1], 10, 64); err == nil && ts > 0 {
			return ParsedSource{UserID: parts[0], Timestamp: ts, Filename: filename}
		}
	}
	return ParsedSource{UserID: "unknown", Timestamp: 0, Filename: filename}
}
