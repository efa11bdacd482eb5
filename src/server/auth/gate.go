// Package auth decides whether a presented token authenticates a request
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apimgr/weatherapi/src/server/blacklist"
	"github.com/apimgr/weatherapi/src/server/token"
)

// Rejections. ErrInvalidToken is shared with the token package so callers
// can match either.
var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = token.ErrInvalidToken
	ErrRevokedToken = errors.New("token has been revoked")
	ErrForbidden    = errors.New("token was issued for another user")
)

// Identity is the authenticated caller
type Identity struct {
	Subject   string
	TokenID   string
	ExpiresAt time.Time
	// Token is the raw token, kept so logout can revoke it
	Token string
}

// Gate combines signature checks with the revocation list
type Gate struct {
	codec *token.Codec
	store blacklist.Store
}

// NewGate creates a Gate
func NewGate(codec *token.Codec, store blacklist.Store) *Gate {
	return &Gate{codec: codec, store: store}
}

// Authenticate resolves a raw session token to an Identity. Storage failures
// are returned wrapped and never authenticate.
func (g *Gate) Authenticate(ctx context.Context, raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrMissingToken
	}

	claims, err := g.codec.Verify(raw)
	if err != nil {
		return Identity{}, err
	}
	if claims.Type == token.TypeTransfer {
		return Identity{}, fmt.Errorf("%w: transfer token used as session", ErrInvalidToken)
	}

	if err := g.checkRevoked(ctx, raw); err != nil {
		return Identity{}, err
	}

	return Identity{
		Subject:   claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.Expiry(),
		Token:     raw,
	}, nil
}

// Logout revokes a well-formed token. Repeating it is not an error.
func (g *Gate) Logout(ctx context.Context, raw string) error {
	if raw == "" {
		return ErrMissingToken
	}
	claims, err := g.codec.Verify(raw)
	if err != nil {
		return err
	}
	return g.store.Revoke(ctx, raw, claims.Expiry())
}

// Revoke adds a token to the revocation list
func (g *Gate) Revoke(ctx context.Context, raw string, expiresAt time.Time) error {
	return g.store.Revoke(ctx, raw, expiresAt)
}

// IssueSession signs a session token for login
func (g *Gate) IssueSession(login string) (string, error) {
	return g.codec.IssueSession(login)
}

// IssueTransfer signs a transfer token naming the recipient. ref identifies
// what is being transferred and comes back in the verified claims.
func (g *Gate) IssueTransfer(recipient, ref string) (string, error) {
	return g.codec.IssueTransfer(recipient, ref)
}

// VerifyTransfer checks that transferToken is a live transfer token issued
// to the caller and returns its claims
func (g *Gate) VerifyTransfer(ctx context.Context, caller Identity, transferToken string) (token.Claims, error) {
	if transferToken == "" {
		return token.Claims{}, ErrMissingToken
	}

	claims, err := g.codec.Verify(transferToken)
	if err != nil {
		return token.Claims{}, err
	}
	if claims.Type != token.TypeTransfer {
		return token.Claims{}, fmt.Errorf("%w: not a transfer token", ErrInvalidToken)
	}
	if err := g.checkRevoked(ctx, transferToken); err != nil {
		return token.Claims{}, err
	}
	if claims.Subject != caller.Subject {
		return token.Claims{}, ErrForbidden
	}
	return claims, nil
}

func (g *Gate) checkRevoked(ctx context.Context, raw string) error {
	revoked, err := g.store.IsRevoked(ctx, raw)
	if err != nil {
		return fmt.Errorf("revocation check failed: %w", err)
	}
	if revoked {
		return ErrRevokedToken
	}
	return nil
}
