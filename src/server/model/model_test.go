package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apimgr/weatherapi/src/database"
)

// setupTestDB creates an in-memory SQLite database with the full schema
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUserModel_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	users := &UserModel{DB: setupTestDB(t)}

	created, err := users.Create(ctx, "alice", "hash")
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	byLogin, err := users.GetByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byLogin.ID)
	assert.Equal(t, "hash", byLogin.PasswordHash)

	byID, err := users.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Login)

	exists, err := users.Exists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = users.Create(ctx, "alice", "other")
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = users.GetByLogin(ctx, "bob")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestItemModel_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	users := &UserModel{DB: db}
	items := &ItemModel{DB: db}

	alice, err := users.Create(ctx, "alice", "hash")
	require.NoError(t, err)
	bob, err := users.Create(ctx, "bob", "hash")
	require.NoError(t, err)

	lamp, err := items.Create(ctx, alice.ID, "lamp")
	require.NoError(t, err)
	_, err = items.Create(ctx, alice.ID, "chair")
	require.NoError(t, err)

	_, err = items.Create(ctx, bob.ID, "lamp")
	assert.ErrorIs(t, err, ErrItemExists)

	list, err := items.ListByUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "lamp", list[0].Title)

	require.NoError(t, items.Transfer(ctx, lamp.ID, alice.ID, bob.ID))
	assert.ErrorIs(t, items.Transfer(ctx, lamp.ID, alice.ID, alice.ID), ErrOwnerChanged)
	moved, err := items.GetByID(ctx, lamp.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, moved.UserID)

	empty, err := items.ListByUser(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, items.Delete(ctx, lamp.ID))
	assert.ErrorIs(t, items.Delete(ctx, lamp.ID), ErrItemNotFound)
	assert.ErrorIs(t, items.Transfer(ctx, lamp.ID, bob.ID, alice.ID), ErrItemNotFound)

	_, err = items.GetByID(ctx, lamp.ID)
	assert.ErrorIs(t, err, ErrItemNotFound)
}
