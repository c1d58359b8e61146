package db

import (
	"context"
	"testing"

	"facilitator/internal/db/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestUser(t *testing.T, db *DB, email string) *User {
	t.Helper()
	user, err := db.CreateUser(context.Background(), email, "hashed-password")
	require.NoError(t, err)
	return user
}

func TestCreateAPIKey(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	defer testDB.Close(t)

	db := &DB{pool: testDB.Pool}
	ctx := context.Background()

	user := createTestUser(t, db, "apikey-create@example.com")

	key, raw, err := db.CreateAPIKey(ctx, user.ID, "My Key")
	require.NoError(t, err)
	require.NotNil(t, key)

	assert.NotEqual(t, uuid.Nil, key.ID)
	assert.Equal(t, user.ID, key.UserID)
	assert.True(t, len(raw) > len(apiKeyPrefix))
	assert.Equal(t, raw[:len(key.KeyPrefix)], key.KeyPrefix)
	assert.Equal(t, "My Key", key.Name)
	assert.NotZero(t, key.CreatedAt)
	assert.Nil(t, key.LastUsedAt)
	assert.Nil(t, key.RevokedAt)
}

func TestGetAPIKeyByHash(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	defer testDB.Close(t)

	db := &DB{pool: testDB.Pool}
	ctx := context.Background()

	user := createTestUser(t, db, "apikey-get@example.com")

	created, raw, err := db.CreateAPIKey(ctx, user.ID, "Lookup Key")
	require.NoError(t, err)

	found, err := db.GetAPIKeyByHash(ctx, HashToken(raw))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, user.ID, found.UserID)
	assert.Equal(t, "Lookup Key", found.Name)
}

func TestGetAPIKeyByHash_NotFound(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	defer testDB.Close(t)

	db := &DB{pool: testDB.Pool}
	ctx := context.Background()

	_, err := db.GetAPIKeyByHash(ctx, HashToken("nonexistent-key"))
	require.ErrorIs(t, err, ErrAPIKeyNotFound)
}

func TestGetAPIKeyByHash_Revoked(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	defer testDB.Close(t)

	db := &DB{pool: testDB.Pool}
	ctx := context.Background()

	user := createTestUser(t, db, "apikey-revoked@example.com")

	key, raw, err := db.CreateAPIKey(ctx, user.ID, "Revoked Key")
	require.NoError(t, err)

	err = db.RevokeAPIKey(ctx, user.ID, key.ID)
	require.NoError(t, err)

	_, err = db.GetAPIKeyByHash(ctx, HashToken(raw))
	require.ErrorIs(t, err, ErrAPIKeyNotFound)
}

func TestListAPIKeys(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	defer testDB.Close(t)

	db := &DB{pool: testDB.Pool}
	ctx := context.Background()

	user := createTestUser(t, db, "apikey-list@example.com")

	_, _, err := db.CreateAPIKey(ctx, user.ID, "Key A")
	require.NoError(t, err)
	_, _, err = db.CreateAPIKey(ctx, user.ID, "Key B")
	require.NoError(t, err)
	keyToRevoke, _, err := db.CreateAPIKey(ctx, user.ID, "Key C (revoked)")
	require.NoError(t, err)

	err = db.RevokeAPIKey(ctx, user.ID, keyToRevoke.ID)
	require.NoError(t, err)

	keys, err := db.ListAPIKeys(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 3) // ListAPIKeys includes revoked keys

	var revokedCount int
	for _, k := range keys {
		if k.RevokedAt != nil {
			revokedCount++
			assert.Equal(t, keyToRevoke.ID, k.ID)
		}
	}
	assert.Equal(t, 1, revokedCount)
}

func TestRevokeAPIKey(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	defer testDB.Close(t)

	db := &DB{pool: testDB.Pool}
	ctx := context.Background()

	user := createTestUser(t, db, "apikey-revoke@example.com")

	key, raw, err := db.CreateAPIKey(ctx, user.ID, "Key To Revoke")
	require.NoError(t, err)
	assert.Nil(t, key.RevokedAt)

	err = db.RevokeAPIKey(ctx, user.ID, key.ID)
	require.NoError(t, err)

	_, err = db.GetAPIKeyByHash(ctx, HashToken(raw))
	require.ErrorIs(t, err, ErrAPIKeyNotFound)

	err = db.RevokeAPIKey(ctx, user.ID, key.ID)
	require.ErrorIs(t, err, ErrAPIKeyNotFound)
}

func TestRevokeAPIKey_WrongUser(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	defer testDB.Close(t)

	db := &DB{pool: testDB.Pool}
	ctx := context.Background()

	owner := createTestUser(t, db, "apikey-owner@example.com")
	intruder := createTestUser(t, db, "apikey-intruder@example.com")

	key, raw, err := db.CreateAPIKey(ctx, owner.ID, "Owner's Key")
	require.NoError(t, err)

	err = db.RevokeAPIKey(ctx, intruder.ID, key.ID)
	require.ErrorIs(t, err, ErrAPIKeyNotFound)

	found, err := db.GetAPIKeyByHash(ctx, HashToken(raw))
	require.NoError(t, err)
	assert.Equal(t, key.ID, found.ID)
	assert.Nil(t, found.RevokedAt)
}

func TestHasActiveAPIKeys(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	defer testDB.Close(t)

	db := &DB{pool: testDB.Pool}
	ctx := context.Background()

	user := createTestUser(t, db, "apikey-count@example.com")

	has, err := db.HasActiveAPIKeys(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, has)

	key, _, err := db.CreateAPIKey(ctx, user.ID, "Key 1")
	require.NoError(t, err)

	has, err = db.HasActiveAPIKeys(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, has)

	err = db.RevokeAPIKey(ctx, user.ID, key.ID)
	require.NoError(t, err)

	has, err = db.HasActiveAPIKeys(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, has)
}
