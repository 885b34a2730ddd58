// Package consent implements the one-time data processing acknowledgment.
package consent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const (
	// Key is the storage key of the consent flag.
	Key = "connectwise-ai-gdpr-consent"

	acceptedValue = "true"
)

// Storage is a persistent key/value capability.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Gate tracks whether the consent banner should be shown.
type Gate struct {
	storage Storage
	key     string
	logger  *slog.Logger

	mu      sync.Mutex
	loaded  bool
	visible bool
}

// NewGate creates a gate over storage. An empty key selects Key.
func NewGate(storage Storage, key string, logger *slog.Logger) *Gate {
	if key == "" {
		key = Key
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{storage: storage, key: key, logger: logger}
}

// Load reads the persisted flag once and returns whether the banner is
// visible. Later calls return the cached result. A read failure shows the
// banner.
func (g *Gate) Load(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.loaded {
		return g.visible
	}

	_, ok, err := g.storage.Get(ctx, g.key)
	if err != nil {
		g.logger.Warn("failed to read consent flag", "key", g.key, "error", err)
		ok = false
	}
	g.loaded = true
	g.visible = !ok
	return g.visible
}

// Visible reports whether the banner is shown. It is false until Load runs.
func (g *Gate) Visible() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.visible
}

// Accept persists the flag and hides the banner.
func (g *Gate) Accept(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.storage.Set(ctx, g.key, acceptedValue); err != nil {
		return fmt.Errorf("persist consent flag: %w", err)
	}
	g.loaded = true
	g.visible = false
	return nil
}
