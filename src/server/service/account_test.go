package services

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apimgr/weatherapi/src/database"
	"github.com/apimgr/weatherapi/src/server/auth"
	"github.com/apimgr/weatherapi/src/server/blacklist"
	models "github.com/apimgr/weatherapi/src/server/model"
	"github.com/apimgr/weatherapi/src/server/token"
	"github.com/apimgr/weatherapi/src/utils"
)

type accountFixture struct {
	svc   *AccountService
	gate  *auth.Gate
	items *models.ItemModel
	log   *bytes.Buffer
}

func newAccountFixture(t *testing.T) *accountFixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	codec, err := token.NewCodec(token.Config{
		Secret:      []byte("0123456789abcdef0123456789abcdef"),
		SessionTTL:  10 * time.Minute,
		TransferTTL: 5 * time.Minute,
	})
	require.NoError(t, err)

	gate := auth.NewGate(codec, blacklist.NewSQLStore(db))
	items := &models.ItemModel{DB: db}
	buf := &bytes.Buffer{}

	svc := NewAccountService(&models.UserModel{DB: db}, items, gate, "http://localhost:8000/", utils.NewWriterLogger(buf, false))
	return &accountFixture{svc: svc, gate: gate, items: items, log: buf}
}

func (f *accountFixture) signup(t *testing.T, login string) auth.Identity {
	t.Helper()
	raw, err := f.svc.Signup(context.Background(), Credentials{Login: login, Password: "Abc12345"})
	require.NoError(t, err)
	id, err := f.gate.Authenticate(context.Background(), raw)
	require.NoError(t, err)
	return id
}

func TestSignupPasswordPolicy(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()

	tests := []struct {
		password string
		field    string
		wantErr  bool
	}{
		{"Abc12345", "", false},
		{"abcdefgh", "password", true},
		{"Abcdefgh", "password", true},
		{"abc12345", "password", true},
		{"Ab1", "password", true},
		{"", "password", true},
	}

	for i, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			_, err := f.svc.Signup(ctx, Credentials{Login: "user" + strconv.Itoa(i), Password: tt.password})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Details(), tt.field)
		})
	}
}

func TestSignupDuplicateLogin(t *testing.T) {
	f := newAccountFixture(t)
	f.signup(t, "alice")

	_, err := f.svc.Signup(context.Background(), Credentials{Login: "alice", Password: "Xyz98765"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLogin(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	f.signup(t, "alice")

	raw, err := f.svc.Login(ctx, Credentials{Login: "alice", Password: "Abc12345"})
	require.NoError(t, err)
	id, err := f.gate.Authenticate(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Subject)

	_, err = f.svc.Login(ctx, Credentials{Login: "alice", Password: "Wrong1234"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, Credentials{Login: "nobody", Password: "Abc12345"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Same caller-visible error, distinct audit reasons
	assert.Contains(t, f.log.String(), `"reason":"bad password"`)
	assert.Contains(t, f.log.String(), `"reason":"unknown user"`)

	_, err = f.svc.Login(ctx, Credentials{Login: "alice"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLogoutThenRejected(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	id := f.signup(t, "alice")

	require.NoError(t, f.svc.Logout(ctx, id.Token))

	_, err := f.gate.Authenticate(ctx, id.Token)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)

	assert.NoError(t, f.svc.Logout(ctx, id.Token))
}

func TestItemsCRUD(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	bob := f.signup(t, "bob")

	lamp, err := f.svc.CreateItem(ctx, alice, "lamp")
	require.NoError(t, err)
	assert.Equal(t, "lamp", lamp.Title)

	_, err = f.svc.CreateItem(ctx, alice, "lamp")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.CreateItem(ctx, alice, "")
	assert.ErrorIs(t, err, ErrValidation)

	list, err := f.svc.ListItems(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", list.User.Login)
	require.Len(t, list.Items, 1)
	assert.Equal(t, lamp.ID, list.Items[0].ID)

	empty, err := f.svc.ListItems(ctx, bob)
	require.NoError(t, err)
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Items)

	err = f.svc.DeleteItem(ctx, bob, lamp.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.svc.DeleteItem(ctx, alice, lamp.ID))
	assert.ErrorIs(t, f.svc.DeleteItem(ctx, alice, lamp.ID), ErrNotFound)
}

// redeemParts splits a transfer link into its token and item id
func redeemParts(t *testing.T, link string) (string, int64) {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	require.Len(t, parts, 3)
	require.Equal(t, "users", parts[0])
	id, err := strconv.ParseInt(parts[2], 10, 64)
	require.NoError(t, err)
	return parts[1], id
}

func TestTransferFlow(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	bob := f.signup(t, "bob")
	mallory := f.signup(t, "mallory")

	lamp, err := f.svc.CreateItem(ctx, alice, "lamp")
	require.NoError(t, err)

	link, err := f.svc.SendItem(ctx, alice, "bob", lamp.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "http://localhost:8000/users/"), link)

	transfer, itemID := redeemParts(t, link)
	assert.Equal(t, lamp.ID, itemID)

	// Token names bob, so mallory cannot redeem it
	err = f.svc.RedeemTransfer(ctx, mallory, transfer, itemID)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.svc.RedeemTransfer(ctx, bob, transfer, itemID))

	moved, err := f.items.GetByID(ctx, lamp.ID)
	require.NoError(t, err)
	list, err := f.svc.ListItems(ctx, bob)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, list.User.ID, moved.UserID)

	// Single use
	err = f.svc.RedeemTransfer(ctx, bob, transfer, itemID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestTransferBoundToItem(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	bob := f.signup(t, "bob")

	lamp, err := f.svc.CreateItem(ctx, alice, "lamp")
	require.NoError(t, err)
	chair, err := f.svc.CreateItem(ctx, alice, "chair")
	require.NoError(t, err)

	link, err := f.svc.SendItem(ctx, alice, "bob", lamp.ID)
	require.NoError(t, err)
	transfer, _ := redeemParts(t, link)

	err = f.svc.RedeemTransfer(ctx, bob, transfer, chair.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// Sender gave the item away meanwhile
	require.NoError(t, f.svc.DeleteItem(ctx, alice, lamp.ID))
	err = f.svc.RedeemTransfer(ctx, bob, transfer, lamp.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentRedeemMovesItemOnce(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	bob := f.signup(t, "bob")
	carol := f.signup(t, "carol")

	lamp, err := f.svc.CreateItem(ctx, alice, "lamp")
	require.NoError(t, err)

	toBob, err := f.svc.SendItem(ctx, alice, "bob", lamp.ID)
	require.NoError(t, err)
	toCarol, err := f.svc.SendItem(ctx, alice, "carol", lamp.ID)
	require.NoError(t, err)
	bobToken, _ := redeemParts(t, toBob)
	carolToken, _ := redeemParts(t, toCarol)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errs[0] = f.svc.RedeemTransfer(ctx, bob, bobToken, lamp.ID) }()
	go func() { defer wg.Done(); errs[1] = f.svc.RedeemTransfer(ctx, carol, carolToken, lamp.ID) }()
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrForbidden)
	}
	assert.Equal(t, 1, succeeded)

	moved, err := f.items.GetByID(ctx, lamp.ID)
	require.NoError(t, err)
	owners := 0
	for _, id := range []auth.Identity{bob, carol} {
		list, err := f.svc.ListItems(ctx, id)
		require.NoError(t, err)
		if len(list.Items) == 1 {
			owners++
			assert.Equal(t, list.User.ID, moved.UserID)
		}
	}
	assert.Equal(t, 1, owners)
}

func TestSendItemChecks(t *testing.T) {
	f := newAccountFixture(t)
	ctx := context.Background()
	alice := f.signup(t, "alice")
	bob := f.signup(t, "bob")

	lamp, err := f.svc.CreateItem(ctx, alice, "lamp")
	require.NoError(t, err)

	_, err = f.svc.SendItem(ctx, bob, "alice", lamp.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.SendItem(ctx, alice, "nobody", lamp.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.SendItem(ctx, alice, "bob", 999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.SendItem(ctx, alice, "", lamp.ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseTransferRef(t *testing.T) {
	item, sender, ok := parseTransferRef(transferRef(12, 34))
	require.True(t, ok)
	assert.Equal(t, int64(12), item)
	assert.Equal(t, int64(34), sender)

	for _, bad := range []string{"", "12", "a:1", "1:b"} {
		_, _, ok := parseTransferRef(bad)
		assert.False(t, ok, bad)
	}
}
