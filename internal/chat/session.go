// Package chat implements the per-visitor company chat: the selection, the
// append-only transcript and the single in-flight insight request.
package chat

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ashureev/connectwise-ai/internal/domain"
	"github.com/google/uuid"
)

// State is the request state of a session.
type State int

const (
	// StateIdle accepts new questions.
	StateIdle State = iota
	// StateAwaitingReply has a question in flight.
	StateAwaitingReply
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReply:
		return "awaiting_reply"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Turn is a question accepted by Submit that still needs an answer.
type Turn struct {
	Token    string
	Company  *domain.Company
	Question string
}

// Greeting returns the opening assistant message for company.
func Greeting(company *domain.Company) string {
	return fmt.Sprintf("Hi! I'm ConnectWise AI. Ask me anything about %s. What would you like to know?", company.Name)
}

// Session is the chat state of one visitor tab. It is not safe for
// concurrent use; Manager serializes access.
type Session struct {
	company  *domain.Company
	messages []domain.ChatMessage
	state    State
	token    string
}

// NewSession returns a session with no selection.
func NewSession() *Session {
	return &Session{}
}

// restoreSession rebuilds an idle session from persisted state.
func restoreSession(company *domain.Company, messages []domain.ChatMessage) *Session {
	if company == nil {
		return NewSession()
	}
	return &Session{company: company, messages: slices.Clone(messages)}
}

// Select makes company the chat subject. The previous transcript is
// discarded, any pending reply is invalidated, and the returned transcript
// holds only the greeting. Selecting nil is the same as Clear.
func (s *Session) Select(company *domain.Company) []domain.ChatMessage {
	if company == nil {
		return s.Clear()
	}
	s.company = company
	s.messages = []domain.ChatMessage{{Role: domain.RoleModel, Text: Greeting(company)}}
	s.state = StateIdle
	s.token = ""
	return s.Transcript()
}

// Clear drops the selection and empties the transcript.
func (s *Session) Clear() []domain.ChatMessage {
	s.company = nil
	s.messages = nil
	s.state = StateIdle
	s.token = ""
	return s.Transcript()
}

// Submit appends a user question and returns the turn to answer. It is a
// no-op returning false when text is blank, nothing is selected, or a reply
// is already pending.
func (s *Session) Submit(text string) (Turn, bool) {
	if strings.TrimSpace(text) == "" || s.company == nil || s.state == StateAwaitingReply {
		return Turn{}, false
	}

	s.messages = append(s.messages, domain.ChatMessage{Role: domain.RoleUser, Text: text})
	s.state = StateAwaitingReply
	s.token = uuid.NewString()

	return Turn{Token: s.token, Company: s.company, Question: text}, true
}

// Complete appends reply if token belongs to the pending turn and returns the
// session to idle. Replies for any other token are dropped and false is
// returned.
func (s *Session) Complete(token, reply string) bool {
	if s.state != StateAwaitingReply || token == "" || token != s.token {
		return false
	}
	s.messages = append(s.messages, domain.ChatMessage{Role: domain.RoleModel, Text: reply})
	s.state = StateIdle
	s.token = ""
	return true
}

// Company returns the selected company, or nil.
func (s *Session) Company() *domain.Company {
	return s.company
}

// State returns the request state.
func (s *Session) State() State {
	return s.state
}

// Transcript returns a copy of the messages.
func (s *Session) Transcript() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}
