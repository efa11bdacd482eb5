package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/apimgr/weatherapi/src/database"
)

// SQLStore keeps revoked tokens in the blacklist table
type SQLStore struct {
	db *database.DB
}

// NewSQLStore creates a store on db. The schema must already exist.
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Revoke inserts the token digest, ignoring duplicates
func (s *SQLStore) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	var query string
	switch s.db.Driver {
	case database.DriverSQLite, database.DriverPostgres:
		query = "INSERT INTO blacklist (token_hash, expires_at, created_at) VALUES (?, ?, ?) ON CONFLICT (token_hash) DO NOTHING"
	case database.DriverMySQL:
		query = "INSERT IGNORE INTO blacklist (token_hash, expires_at, created_at) VALUES (?, ?, ?)"
	default:
		query = "INSERT INTO blacklist (token_hash, expires_at, created_at) VALUES (?, ?, ?)"
	}

	var expires any
	if !expiresAt.IsZero() {
		expires = expiresAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(query), hashToken(token), expires, time.Now().UTC())
	if err != nil && !database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: revoke: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsRevoked checks for the token digest
func (s *SQLStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind("SELECT COUNT(*) FROM blacklist WHERE token_hash = ?"), hashToken(token),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: lookup: %v", ErrStoreUnavailable, err)
	}
	return count > 0, nil
}

// PurgeAll deletes every row
func (s *SQLStore) PurgeAll(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM blacklist")
	if err != nil {
		return 0, fmt.Errorf("%w: purge: %v", ErrStoreUnavailable, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: purge: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}
