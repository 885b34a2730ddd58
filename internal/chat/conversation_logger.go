package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ConversationLogger records chat traffic for later review.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// ConversationLogEvent is one line of a conversation log.
type ConversationLogEvent struct {
	Timestamp string `json:"ts"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	EventType string `json:"event_type"`
	CompanyID string `json:"company_id,omitempty"`
	Token     string `json:"token,omitempty"`
	Text      string `json:"text"`
}

const (
	eventSelect       = "chat_select"
	eventClear        = "chat_clear"
	eventUserMessage  = "chat_user_message"
	eventModelReply   = "chat_model_reply"
	eventReplyDropped = "chat_reply_dropped"
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// fileConversationLogger appends events to <dir>/<user>/<session>.ndjson
// from a single background goroutine.
type fileConversationLogger struct {
	dir    string
	queue  chan ConversationLogEvent
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewConversationLogger returns a logger for cfg. A disabled config yields a
// logger that discards everything.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create conversation log directory: %w", err)
	}

	l := &fileConversationLogger{
		dir:    cfg.Dir,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l, nil
}

// Log enqueues event. Events are dropped when the queue is full so that chat
// traffic never blocks on disk.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"user_id", event.UserID,
			"session_id", event.SessionID,
			"event_type", event.EventType,
		)
	}
}

// Close flushes queued events and stops the writer.
func (l *fileConversationLogger) Close() error {
	l.once.Do(func() { close(l.queue) })
	<-l.done
	return nil
}

func (l *fileConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("failed to write conversation log", "error", err, "user_id", event.UserID)
		}
	}
}

func (l *fileConversationLogger) write(event ConversationLogEvent) error {
	dir := filepath.Join(l.dir, safePathSegment(event.UserID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create user log directory: %w", err)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal conversation event: %w", err)
	}

	path := filepath.Join(dir, safePathSegment(event.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open conversation log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append conversation log: %w", err)
	}
	return f.Close()
}

func safePathSegment(s string) string {
	s = unsafePathChars.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}
