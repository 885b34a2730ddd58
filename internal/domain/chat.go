package domain

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks a message typed by the visitor.
	RoleUser Role = "user"
	// RoleModel marks a message produced by the assistant.
	RoleModel Role = "model"
)

// ChatMessage is a single transcript entry.
type ChatMessage struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ChatSnapshot stores the persisted transcript of one visitor tab.
type ChatSnapshot struct {
	UserID       string
	SessionID    string
	CompanyID    *string
	MessagesJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
