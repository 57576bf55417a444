package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/agentd/llm"
)

// Status is the session lifecycle state. Transitions are driven by the
// agent runner: idle -> running on task start, running -> waiting_approval
// while a tool call is pending review, and back to idle when the turn ends.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
)

// Session is the durable record for one conversation.
type Session struct {
	ID            string    `json:"id"`
	ChatKey       string    `json:"chat_key"`
	UserID        string    `json:"user_id,omitempty"`
	WorkspaceRoot string    `json:"workspace_root"`
	Status        Status    `json:"status"`
	Messages      []Message `json:"messages"`
	Usage         llm.Usage `json:"usage"`
	Cancelled     bool      `json:"cancelled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// New creates an idle session bound to a chat key and workspace root.
func New(chatKey, userID, workspaceRoot string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:            uuid.NewString(),
		ChatKey:       chatKey,
		UserID:        userID,
		WorkspaceRoot: workspaceRoot,
		Status:        StatusIdle,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Reset clears the message log, token counters, and cancel flag while
// keeping the session identity and workspace binding.
func (s *Session) Reset() {
	s.Messages = nil
	s.Usage = llm.Usage{}
	s.Cancelled = false
	s.Status = StatusIdle
	s.UpdatedAt = time.Now().UTC()
}

func nowUTC() time.Time { return time.Now().UTC() }

// Clone returns a deep copy so callers can hold a snapshot without racing
// the store's cached instance.
func (s *Session) Clone() *Session {
	dup := *s
	dup.Messages = make([]Message, len(s.Messages))
	copy(dup.Messages, s.Messages)
	return &dup
}
