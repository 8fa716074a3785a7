// Package keystore manages API keys and the user identities behind them.
// A key authenticates every request, both on the HTTP API (X-Auth-Key header)
// and on the web UI (submitted once at login, carried by a session token and
// re-validated here on each privileged call).
package keystore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Role determines what a user may manage.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Status marks whether a key is usable.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// UserInfo is the identity bound to an API key. Identity fields are immutable
// once created; only Status (and DisabledAt) change afterwards.
type UserInfo struct {
	UserID     string     `json:"user_id"`
	Username   string     `json:"username"`
	Role       Role       `json:"role"`
	APIKey     string     `json:"api_key"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *UserInfo) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ErrKeyNotFound is returned by Lookup for unknown or disabled keys.
var ErrKeyNotFound = errors.New("api key not found")

// ErrDuplicateUser is returned by Create when the user already holds an active key.
var ErrDuplicateUser = errors.New("user already has an active api key")

// Store is the API-key lookup and management contract.
type Store interface {
	// Lookup resolves an API key to its user. Disabled keys are reported as
	// ErrKeyNotFound, same as unknown ones.
	Lookup(ctx context.Context, apiKey string) (*UserInfo, error)
	// Create mints a fresh key for a new user. Fails with ErrDuplicateUser
	// when the user_id already holds an active key.
	Create(ctx context.Context, userID, username string, role Role) (*UserInfo, error)
	// Disable marks a key unusable. Disabling an already-disabled or unknown
	// key is a no-op.
	Disable(ctx context.Context, apiKey string) error
	// List returns every key record, for the admin management view.
	List(ctx context.Context) ([]*UserInfo, error)
}

// NewAPIKey mints a key with 256 bits of entropy, prefixed by role so an
// operator can tell admin keys apart at a glance.
func NewAPIKey(role Role) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	prefix := "ky-user-"
	if role == RoleAdmin {
		prefix = "ky-admin-"
	}
	return prefix + hex.EncodeToString(buf), nil
}
