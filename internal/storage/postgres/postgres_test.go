package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"duet/internal/auth"
	"duet/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DUET_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DUET_TEST_DATABASE_URL is not set")
	}
	store, err := New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	name := "pg_" + uuid.NewString()[:8]
	creds := auth.UserCredentials{
		User:         models.User{ID: uuid.NewString(), UserName: name, CreatedAt: 1},
		PasswordHash: "hash",
	}
	require.NoError(t, store.CreateUser(ctx, creds))

	dup := creds
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, store.CreateUser(ctx, dup), auth.ErrUserExists)

	got, err := store.GetCredentials(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, creds.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)

	_, err = store.GetUser(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, store.UpdateLastSeen(ctx, creds.ID, 42))
	user, err := store.GetUser(ctx, creds.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 42, user.LastSeen)

	found, err := store.SearchUsers(ctx, name, 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, creds.ID, found[0].ID)
}

func TestMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, b := uuid.NewString(), uuid.NewString()

	for i := range 5 {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		m, err := store.AppendMessage(ctx, models.Message{
			ID: uuid.NewString(), FromUserID: from, ToUserID: to, Text: "hi", Timestamp: int64(100 - i),
		})
		require.NoError(t, err)
		assert.EqualValues(t, i+1, m.Seq)
		assert.EqualValues(t, 100, m.Timestamp)
	}

	page, err := store.ListMessages(ctx, models.NewPair(a, b), 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.EqualValues(t, 4, page[0].Seq)
	assert.EqualValues(t, 5, page[1].Seq)

	page, err = store.ListMessages(ctx, models.NewPair(a, b), 4, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.EqualValues(t, 1, page[0].Seq)

	last, err := store.LastMessages(ctx, a)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.EqualValues(t, 5, last[0].Seq)
	assert.Equal(t, a, last[0].FromUserID)
	assert.Equal(t, b, last[0].ToUserID)
}

func TestFriendships(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, b := uuid.NewString(), uuid.NewString()

	require.NoError(t, store.UpsertFriendship(ctx, models.Friendship{
		RequesterID: a, AddresseeID: b, Status: models.FriendStatusPending, CreatedAt: 1, UpdatedAt: 1,
	}))
	contacts, err := store.ListContacts(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, contacts)

	require.NoError(t, store.UpsertFriendship(ctx, models.Friendship{
		RequesterID: a, AddresseeID: b, Status: models.FriendStatusAccepted, CreatedAt: 1, UpdatedAt: 2,
	}))
	contacts, err = store.ListContacts(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, contacts)

	f, err := store.GetFriendship(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, models.FriendStatusAccepted, f.Status)
}
