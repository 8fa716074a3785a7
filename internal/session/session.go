// Package session issues and validates web login tokens. A token is a signed
// JWT carrying the API key the user logged in with; it is a claim of
// identity, not a grant. Validate re-resolves the key against the keystore on
// every call, so disabling a key cuts off its sessions immediately instead of
// at token expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SnowBall-Bqiu/IMHO/internal/keystore"
)

// CookieName is the session cookie set on web login.
const CookieName = "imho_session"

// ErrInvalidSession is returned for tokens that are malformed, expired,
// tampered with, or whose underlying key is no longer active.
var ErrInvalidSession = errors.New("invalid or expired session")

// Manager issues and validates session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	keys   keystore.Store
}

// NewManager creates a session Manager signing with secret.
func NewManager(secret string, ttl time.Duration, keys keystore.Store) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl, keys: keys}
}

// Issue creates a signed token for the authenticated user. The api key rides
// in the claims so Validate can re-check its status; the holder already
// knows their own key, so nothing new is disclosed.
func (m *Manager) Issue(u *keystore.UserInfo) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": u.UserID,
		"key": u.APIKey,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Validate parses the token and re-resolves its api key against the
// keystore. The user identity returned is the store's current record, not
// whatever the token was minted with.
func (m *Manager) Validate(ctx context.Context, tokenString string) (*keystore.UserInfo, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidSession
	}
	apiKey, _ := claims["key"].(string)
	sub, _ := claims["sub"].(string)
	if apiKey == "" || sub == "" {
		return nil, ErrInvalidSession
	}

	u, err := m.keys.Lookup(ctx, apiKey)
	if err != nil {
		return nil, ErrInvalidSession
	}
	if u.UserID != sub {
		return nil, ErrInvalidSession
	}
	return u, nil
}
