// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/connectwise-ai/internal/domain"
)

// Repository defines the interface for persisting visitor state.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetPreference reads a per-user preference. ok is false when unset.
	GetPreference(ctx context.Context, userID, key string) (value string, ok bool, err error)

	// SetPreference writes a per-user preference.
	SetPreference(ctx context.Context, userID, key, value string) error

	// GetChatSnapshot retrieves the persisted transcript for a tab session.
	GetChatSnapshot(ctx context.Context, userID, sessionID string) (*domain.ChatSnapshot, error)

	// UpsertChatSnapshot creates or updates a persisted transcript.
	UpsertChatSnapshot(ctx context.Context, snapshot *domain.ChatSnapshot) error

	// CleanupExpiredSnapshots removes transcripts not updated within ttl.
	CleanupExpiredSnapshots(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
