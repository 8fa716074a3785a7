package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists key records in Postgres, for installs where keys
// must survive restarts. Schema lives in internal/db/migrations.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a store backed by the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Lookup resolves an active API key to its user.
func (s *PostgresStore) Lookup(ctx context.Context, apiKey string) (*UserInfo, error) {
	u := &UserInfo{}
	err := s.db.QueryRow(ctx,
		`SELECT user_id, username, role, api_key, status, created_at, disabled_at
		 FROM api_keys WHERE api_key = $1 AND status = 'active'`,
		apiKey,
	).Scan(&u.UserID, &u.Username, &u.Role, &u.APIKey, &u.Status, &u.CreatedAt, &u.DisabledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	return u, nil
}

// Create mints a key for a new user. The partial unique index on active
// user_ids enforces the one-active-key-per-user policy.
func (s *PostgresStore) Create(ctx context.Context, userID, username string, role Role) (*UserInfo, error) {
	apiKey, err := NewAPIKey(role)
	if err != nil {
		return nil, err
	}

	u := &UserInfo{}
	err = s.db.QueryRow(ctx,
		`INSERT INTO api_keys (user_id, username, role, api_key, status)
		 VALUES ($1, $2, $3, $4, 'active')
		 RETURNING user_id, username, role, api_key, status, created_at, disabled_at`,
		userID, username, role, apiKey,
	).Scan(&u.UserID, &u.Username, &u.Role, &u.APIKey, &u.Status, &u.CreatedAt, &u.DisabledAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("create api key: %w", err)
	}
	return u, nil
}

// Disable marks the key disabled. Idempotent: affecting zero rows is fine.
func (s *PostgresStore) Disable(ctx context.Context, apiKey string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE api_keys SET status = 'disabled', disabled_at = NOW()
		 WHERE api_key = $1 AND status = 'active'`,
		apiKey,
	)
	if err != nil {
		return fmt.Errorf("disable api key: %w", err)
	}
	return nil
}

// List returns all key records ordered by creation time.
func (s *PostgresStore) List(ctx context.Context) ([]*UserInfo, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, username, role, api_key, status, created_at, disabled_at
		 FROM api_keys ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []*UserInfo
	for rows.Next() {
		u := &UserInfo{}
		if err := rows.Scan(&u.UserID, &u.Username, &u.Role, &u.APIKey, &u.Status, &u.CreatedAt, &u.DisabledAt); err != nil {
			return nil, fmt.Errorf("scan api key row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// isUniqueViolation checks whether an error is a PostgreSQL unique_violation (code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
