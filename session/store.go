package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/martinemde/agentd/llm"
)

// DefaultMaxHistory bounds the message log per session. Older non-system
// messages are dropped when the cap is exceeded.
const DefaultMaxHistory = 200

// Store persists sessions. Every mutator is durable before it returns:
// a crash immediately after any call loses at most the in-flight change.
type Store interface {
	// GetOrCreate returns the session for the chat key, creating an idle
	// one bound to workspaceRoot if none exists.
	GetOrCreate(ctx context.Context, chatKey, userID, workspaceRoot string) (*Session, error)

	// Get returns the session by id, or an error if unknown.
	Get(ctx context.Context, id string) (*Session, error)

	// AppendMessage appends to the log, applying the history cap.
	AppendMessage(ctx context.Context, id string, msg Message) error

	// SetStatus records a lifecycle transition.
	SetStatus(ctx context.Context, id string, status Status) error

	// AddUsage accumulates token counts onto the session total.
	AddUsage(ctx context.Context, id string, usage llm.Usage) error

	// SetCancelled raises or clears the cooperative cancel flag.
	SetCancelled(ctx context.Context, id string, cancelled bool) error

	// Reset clears the log and counters while keeping the session identity.
	Reset(ctx context.Context, id string) error
}

// MemoryStore is an in-process Store. Used for tests and for running
// without a state directory; FileStore layers durability on top of the
// same bookkeeping.
type MemoryStore struct {
	mu         sync.Mutex
	byID       map[string]*Session
	byChatKey  map[string]string
	maxHistory int
}

// NewMemoryStore creates an empty MemoryStore with the default history cap.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*Session),
		byChatKey:  make(map[string]string),
		maxHistory: DefaultMaxHistory,
	}
}

// SetMaxHistory overrides the history cap. Zero disables trimming.
func (m *MemoryStore) SetMaxHistory(n int) { m.maxHistory = n }

func (m *MemoryStore) GetOrCreate(ctx context.Context, chatKey, userID, workspaceRoot string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byChatKey[chatKey]; ok {
		return m.byID[id].Clone(), nil
	}
	s := New(chatKey, userID, workspaceRoot)
	m.byID[s.ID] = s
	m.byChatKey[chatKey] = s.ID
	return s.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, id string, msg Message) error {
	return m.mutate(id, func(s *Session) {
		s.Messages = Trim(append(s.Messages, msg), m.maxHistory)
	})
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, status Status) error {
	return m.mutate(id, func(s *Session) { s.Status = status })
}

func (m *MemoryStore) AddUsage(ctx context.Context, id string, usage llm.Usage) error {
	return m.mutate(id, func(s *Session) { s.Usage = s.Usage.Add(usage) })
}

func (m *MemoryStore) SetCancelled(ctx context.Context, id string, cancelled bool) error {
	return m.mutate(id, func(s *Session) { s.Cancelled = cancelled })
}

func (m *MemoryStore) Reset(ctx context.Context, id string) error {
	return m.mutate(id, func(s *Session) { s.Reset() })
}

func (m *MemoryStore) mutate(id string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	fn(s)
	s.UpdatedAt = nowUTC()
	return nil
}
