package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apimgr/weatherapi/src/database"
	"github.com/apimgr/weatherapi/src/server/blacklist"
	"github.com/apimgr/weatherapi/src/server/token"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func newTestGate(t *testing.T, clock *fakeClock) (*Gate, blacklist.Store) {
	t.Helper()
	cfg := token.Config{
		Secret:      []byte("0123456789abcdef0123456789abcdef"),
		Issuer:      "weatherapi",
		SessionTTL:  10 * time.Minute,
		TransferTTL: 5 * time.Minute,
	}
	if clock != nil {
		cfg.Now = clock.Now
	}
	codec, err := token.NewCodec(cfg)
	require.NoError(t, err)

	db, err := database.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := blacklist.NewSQLStore(db)
	return NewGate(codec, store), store
}

// failingStore simulates an unreachable backend
type failingStore struct{}

func (failingStore) Revoke(context.Context, string, time.Time) error {
	return blacklist.ErrStoreUnavailable
}

func (failingStore) IsRevoked(context.Context, string) (bool, error) {
	return false, blacklist.ErrStoreUnavailable
}

func (failingStore) PurgeAll(context.Context) (int64, error) {
	return 0, blacklist.ErrStoreUnavailable
}

func TestAuthenticate(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	ctx := context.Background()

	raw, err := gate.IssueSession("alice")
	require.NoError(t, err)

	id, err := gate.Authenticate(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Subject)
	assert.Equal(t, raw, id.Token)
	assert.NotEmpty(t, id.TokenID)
	assert.False(t, id.ExpiresAt.IsZero())

	_, err = gate.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = gate.Authenticate(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRejectsExpired(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	gate, _ := newTestGate(t, clock)

	raw, err := gate.IssueSession("alice")
	require.NoError(t, err)

	clock.t = clock.t.Add(11 * time.Minute)
	_, err = gate.Authenticate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogoutRevokesBeforeExpiry(t *testing.T) {
	gate, store := newTestGate(t, nil)
	ctx := context.Background()

	raw, err := gate.IssueSession("alice")
	require.NoError(t, err)

	require.NoError(t, gate.Logout(ctx, raw))

	revoked, err := store.IsRevoked(ctx, raw)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = gate.Authenticate(ctx, raw)
	assert.ErrorIs(t, err, ErrRevokedToken)

	// logout only requires a well-formed token, so a repeat succeeds
	assert.NoError(t, gate.Logout(ctx, raw))

	assert.ErrorIs(t, gate.Logout(ctx, "garbage"), ErrInvalidToken)
	assert.ErrorIs(t, gate.Logout(ctx, ""), ErrMissingToken)
}

func TestAuthenticateRejectsTransferToken(t *testing.T) {
	gate, _ := newTestGate(t, nil)

	transfer, err := gate.IssueTransfer("alice", "1")
	require.NoError(t, err)

	_, err = gate.Authenticate(context.Background(), transfer)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateFailsClosed(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	raw, err := gate.IssueSession("alice")
	require.NoError(t, err)

	broken := NewGate(gate.codec, failingStore{})
	_, err = broken.Authenticate(context.Background(), raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, blacklist.ErrStoreUnavailable)
	assert.False(t, errors.Is(err, ErrInvalidToken))
}

func TestVerifyTransfer(t *testing.T) {
	gate, _ := newTestGate(t, nil)
	ctx := context.Background()

	bob := Identity{Subject: "bob"}
	mallory := Identity{Subject: "mallory"}

	transfer, err := gate.IssueTransfer("bob", "7")
	require.NoError(t, err)

	claims, err := gate.VerifyTransfer(ctx, bob, transfer)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Subject)
	assert.Equal(t, "7", claims.Ref)

	_, err = gate.VerifyTransfer(ctx, mallory, transfer)
	assert.ErrorIs(t, err, ErrForbidden)

	session, err := gate.IssueSession("bob")
	require.NoError(t, err)
	_, err = gate.VerifyTransfer(ctx, bob, session)
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, gate.Revoke(ctx, transfer, claims.Expiry()))
	_, err = gate.VerifyTransfer(ctx, bob, transfer)
	assert.ErrorIs(t, err, ErrRevokedToken)

	_, err = gate.VerifyTransfer(ctx, bob, "")
	assert.ErrorIs(t, err, ErrMissingToken)
}
