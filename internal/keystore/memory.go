package keystore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps key records in memory. It is the default backend and
// mirrors the deployment where keys live for the lifetime of the process;
// the Postgres backend covers installs that need keys to survive restarts.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*UserInfo // api key → record
}

// NewMemoryStore creates an empty in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*UserInfo)}
}

// Seed registers a pre-existing key, typically the bootstrap admin key from
// configuration. Seeding an already-present key overwrites it.
func (s *MemoryStore) Seed(apiKey, userID, username string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[apiKey] = &UserInfo{
		UserID:    userID,
		Username:  username,
		Role:      role,
		APIKey:    apiKey,
		Status:    StatusActive,
		CreatedAt: time.Now(),
	}
}

// Lookup resolves an active API key to its user.
func (s *MemoryStore) Lookup(_ context.Context, apiKey string) (*UserInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.keys[apiKey]
	if !ok || info.Status != StatusActive {
		return nil, ErrKeyNotFound
	}
	copied := *info
	return &copied, nil
}

// Create mints a key for a new user.
func (s *MemoryStore) Create(_ context.Context, userID, username string, role Role) (*UserInfo, error) {
	apiKey, err := NewAPIKey(role)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, info := range s.keys {
		if info.UserID == userID && info.Status == StatusActive {
			return nil, ErrDuplicateUser
		}
	}

	info := &UserInfo{
		UserID:    userID,
		Username:  username,
		Role:      role,
		APIKey:    apiKey,
		Status:    StatusActive,
		CreatedAt: time.Now(),
	}
	s.keys[apiKey] = info

	copied := *info
	return &copied, nil
}

// Disable marks the key disabled. Idempotent.
func (s *MemoryStore) Disable(_ context.Context, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.keys[apiKey]
	if !ok || info.Status == StatusDisabled {
		return nil
	}
	now := time.Now()
	info.Status = StatusDisabled
	info.DisabledAt = &now
	return nil
}

// List returns all key records ordered by creation time.
func (s *MemoryStore) List(_ context.Context) ([]*UserInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*UserInfo, 0, len(s.keys))
	for _, info := range s.keys {
		copied := *info
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
