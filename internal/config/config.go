// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	FrontendURL        string `envconfig:"FRONTEND_URL"`
	DBPath             string `envconfig:"DB_PATH" default:"./data/connectwise.db"`
	CatalogPath        string `envconfig:"CATALOG_PATH"` // empty = embedded catalog
	MaxRequestBodySize int64  `envconfig:"MAX_REQUEST_BODY_BYTES" default:"1048576"`
	Insight            InsightConfig
	Session            SessionConfig
	SSE                SSEConfig
	ConversationLog    ConversationLogConfig
}

// InsightConfig configures the generative-language client.
type InsightConfig struct {
	APIKey  string        `envconfig:"GEMINI_API_KEY"`
	Model   string        `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	Timeout time.Duration `envconfig:"INSIGHT_TIMEOUT" default:"30s"`
}

// SessionConfig controls chat session lifetime.
type SessionConfig struct {
	IdleTTL           time.Duration `envconfig:"SESSION_TTL" default:"60m"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	SnapshotRetention time.Duration `envconfig:"SNAPSHOT_RETENTION" default:"168h"`
}

// SSEConfig controls the transcript event stream.
type SSEConfig struct {
	KeepaliveInterval time.Duration `envconfig:"SSE_KEEPALIVE" default:"10s"`
	RetryDelay        time.Duration `envconfig:"SSE_RETRY" default:"5s"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool   `envconfig:"CONVERSATION_LOG_ENABLED" default:"false"`
	Dir       string `envconfig:"CONVERSATION_LOG_DIR" default:"./data/logs/conversations"`
	QueueSize int    `envconfig:"CONVERSATION_LOG_QUEUE_SIZE" default:"1000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	// The frontend build historically read API_KEY; honour it as a fallback.
	if cfg.Insight.APIKey == "" {
		cfg.Insight.APIKey = strings.TrimSpace(os.Getenv("API_KEY"))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.Insight.Model == "" {
		return fmt.Errorf("GEMINI_MODEL cannot be empty")
	}
	if c.Insight.Timeout <= 0 {
		return fmt.Errorf("INSIGHT_TIMEOUT must be > 0")
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.Session.SnapshotRetention < c.Session.IdleTTL {
		return fmt.Errorf("SNAPSHOT_RETENTION must be >= SESSION_TTL")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// AIEnabled reports whether a Gemini credential is configured.
func (c *Config) AIEnabled() bool {
	return c.Insight.APIKey != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}
