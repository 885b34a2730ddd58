package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/connectwise-ai/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	require.NoError(t, repo.Ping(ctx))

	missing, err := repo.GetUser(ctx, "anon_missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, repo.UpsertUser(ctx, &domain.User{
		UserID:     "anon_1",
		Username:   "anon-1",
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	later := now.Add(time.Hour)
	require.NoError(t, repo.UpdateLastSeen(ctx, "anon_1", later))

	user, err := repo.GetUser(ctx, "anon_1")
	require.NoError(t, err)
	require.Equal(t, "anon-1", user.Username)
	require.Equal(t, later.Unix(), user.LastSeenAt.Unix())
	require.Equal(t, now.Unix(), user.CreatedAt.Unix())

	require.NoError(t, repo.UpdateLastSeen(ctx, "anon_unknown", later))
}

func TestPreferencesAreScopedPerUser(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	alice := PreferencesFor(repo, "anon_alice")
	bob := PreferencesFor(repo, "anon_bob")

	_, ok, err := alice.Get(ctx, "flag")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, alice.Set(ctx, "flag", "true"))
	require.NoError(t, alice.Set(ctx, "flag", "true"))

	v, ok, err := alice.Get(ctx, "flag")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", v)

	_, ok, err = bob.Get(ctx, "flag")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChatSnapshotLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	got, err := repo.GetChatSnapshot(ctx, "anon_1", "tab-1")
	require.NoError(t, err)
	require.Nil(t, got)

	companyID := "a"
	require.NoError(t, repo.UpsertChatSnapshot(ctx, &domain.ChatSnapshot{
		UserID:       "anon_1",
		SessionID:    "tab-1",
		CompanyID:    &companyID,
		MessagesJSON: `[{"role":"model","text":"hi"}]`,
	}))

	got, err = repo.GetChatSnapshot(ctx, "anon_1", "tab-1")
	require.NoError(t, err)
	require.NotNil(t, got.CompanyID)
	require.Equal(t, "a", *got.CompanyID)
	require.JSONEq(t, `[{"role":"model","text":"hi"}]`, got.MessagesJSON)
	require.False(t, got.CreatedAt.IsZero())

	require.NoError(t, repo.UpsertChatSnapshot(ctx, &domain.ChatSnapshot{
		UserID:       "anon_1",
		SessionID:    "tab-1",
		MessagesJSON: `[]`,
	}))
	got, err = repo.GetChatSnapshot(ctx, "anon_1", "tab-1")
	require.NoError(t, err)
	require.NotNil(t, got, "a cleared selection keeps its row")
	require.Nil(t, got.CompanyID)
	require.Equal(t, `[]`, got.MessagesJSON)
}

func TestNewSQLiteRejectsNonDatabaseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("not a sqlite database "), 64), 0o600))

	repo, err := NewSQLite(path)
	require.Error(t, err)
	require.Nil(t, repo)

	// The failed store released its handle, so the file can be reused.
	require.NoError(t, os.Remove(path))
	repo, err = NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())
}

func TestCleanupExpiredSnapshots(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, repo.UpsertChatSnapshot(ctx, &domain.ChatSnapshot{
		UserID: "anon_1", SessionID: "old", MessagesJSON: "[]", CreatedAt: old, UpdatedAt: old,
	}))
	require.NoError(t, repo.UpsertChatSnapshot(ctx, &domain.ChatSnapshot{
		UserID: "anon_1", SessionID: "fresh", MessagesJSON: "[]",
	}))

	deleted, err := repo.CleanupExpiredSnapshots(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	fresh, err := repo.GetChatSnapshot(ctx, "anon_1", "fresh")
	require.NoError(t, err)
	require.NotNil(t, fresh)
}
