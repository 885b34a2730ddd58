package chat

import (
	"context"
	"log/slog"
	"time"
)

// SweeperConfig controls the background session sweeper.
type SweeperConfig struct {
	Interval          time.Duration
	IdleTTL           time.Duration
	SnapshotRetention time.Duration
}

// RunSweeper periodically evicts idle in-memory sessions and deletes
// persisted transcripts older than the retention window. It blocks until ctx
// is done.
func RunSweeper(ctx context.Context, m *Manager, store SnapshotStore, cfg SweeperConfig) error {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	slog.Info("Session sweeper started", "interval", cfg.Interval, "idle_ttl", cfg.IdleTTL, "retention", cfg.SnapshotRetention)

	for {
		select {
		case <-ticker.C:
			sweepOnce(ctx, m, store, cfg)
		case <-ctx.Done():
			slog.Info("Session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func sweepOnce(ctx context.Context, m *Manager, store SnapshotStore, cfg SweeperConfig) {
	if evicted := m.Sweep(cfg.IdleTTL); evicted > 0 {
		slog.Info("Session sweeper evicted idle sessions", "count", evicted, "remaining", m.Len())
	}

	if store == nil || cfg.SnapshotRetention <= 0 {
		return
	}
	if deleted, err := store.CleanupExpiredSnapshots(ctx, cfg.SnapshotRetention); err != nil {
		slog.Error("Session sweeper failed to cleanup expired snapshots", "error", err)
	} else if deleted > 0 {
		slog.Info("Session sweeper deleted expired snapshots", "count", deleted)
	}
}
