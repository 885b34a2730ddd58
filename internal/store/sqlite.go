package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/connectwise-ai/internal/domain"
	"github.com/ashureev/connectwise-ai/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	snapshotMu sync.Mutex // Serializes snapshot writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, key)
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		company_id TEXT,
		messages_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// GetPreference reads a per-user preference.
func (s *SQLiteStore) GetPreference(ctx context.Context, userID, key string) (string, bool, error) {
	query := `SELECT value FROM preferences WHERE user_id = ? AND key = ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference %s: %w", key, err)
	}
	return value, true, nil
}

// SetPreference writes a per-user preference.
func (s *SQLiteStore) SetPreference(ctx context.Context, userID, key, value string) error {
	query := `
	INSERT INTO preferences (user_id, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, userID, key, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	return nil
}

// GetChatSnapshot retrieves the persisted transcript for a tab session.
func (s *SQLiteStore) GetChatSnapshot(ctx context.Context, userID, sessionID string) (*domain.ChatSnapshot, error) {
	query := `
		SELECT user_id, session_id, company_id, messages_json, created_at, updated_at
		FROM chat_sessions WHERE user_id = ? AND session_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID, sessionID)

	var snapshot domain.ChatSnapshot
	var companyID sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&snapshot.UserID, &snapshot.SessionID, &companyID,
		&snapshot.MessagesJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat snapshot: %w", err)
	}

	if companyID.Valid {
		snapshot.CompanyID = &companyID.String
	}
	snapshot.CreatedAt = time.Unix(createdAt, 0)
	snapshot.UpdatedAt = time.Unix(updatedAt, 0)

	return &snapshot, nil
}

// UpsertChatSnapshot creates or updates a persisted transcript.
func (s *SQLiteStore) UpsertChatSnapshot(ctx context.Context, snapshot *domain.ChatSnapshot) error {
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()

	query := `
		INSERT INTO chat_sessions (
			user_id, session_id, company_id, messages_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
			company_id = excluded.company_id,
			messages_json = excluded.messages_json,
			updated_at = excluded.updated_at`

	var companyID interface{}
	if snapshot.CompanyID != nil {
		companyID = *snapshot.CompanyID
	}

	createdAt := snapshot.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := snapshot.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		snapshot.UserID, snapshot.SessionID, companyID, snapshot.MessagesJSON,
		createdAt.Unix(), updatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert chat snapshot: %w", err)
	}
	return nil
}

// CleanupExpiredSnapshots removes transcripts older than ttl.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) CleanupExpiredSnapshots(ctx context.Context, ttl time.Duration) (int64, error) {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		var deleted int64
		deleted, err = s.cleanupExpiredSnapshotsOnce(ctx, ttl)
		if err == nil {
			return deleted, nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms
		slog.Debug("CleanupExpiredSnapshots failed with SQLITE_BUSY, retrying",
			"attempt", i+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}

	return 0, err
}

func (s *SQLiteStore) cleanupExpiredSnapshotsOnce(ctx context.Context, ttl time.Duration) (int64, error) {
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	query := `DELETE FROM chat_sessions WHERE updated_at < ?`
	result, err := s.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired snapshots: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
