// Package blacklist records tokens revoked before their natural expiry
package blacklist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps backend failures. Callers must treat it as
// "unknown", never as "not revoked".
var ErrStoreUnavailable = errors.New("blacklist store unavailable")

// Store is a durable set of revoked tokens
type Store interface {
	// Revoke records token as revoked. Revoking twice is not an error.
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
	// IsRevoked reports whether token was revoked
	IsRevoked(ctx context.Context, token string) (bool, error)
	// PurgeAll removes every entry and returns how many were removed
	PurgeAll(ctx context.Context) (int64, error)
}

// hashToken returns the hex SHA-256 digest stored in place of the token
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
