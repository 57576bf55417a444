package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of progress event.
type EventKind string

const (
	EventTurnStarted   EventKind = "turn.started"
	EventItemStarted   EventKind = "item.started"
	EventItemCompleted EventKind = "item.completed"
	EventTurnCompleted EventKind = "turn.completed"
	EventError         EventKind = "error"
)

// Event is one progress notification from a running turn.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Emitter delivers events to the host over a buffered channel. Emission
// never blocks the loop: when the consumer falls behind, events are
// dropped rather than queued unboundedly.
type Emitter struct {
	sessionID string
	ch        chan Event
	closed    bool
	mu        sync.Mutex
}

// NewEmitter creates an Emitter. bufferSize defaults to 256.
func NewEmitter(sessionID string, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{
		sessionID: sessionID,
		ch:        make(chan Event, bufferSize),
	}
}

// Emit sends an event. Dropped silently after Close or when the buffer
// is full.
func (e *Emitter) Emit(kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	ev := Event{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- ev:
	default:
	}
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the channel. Safe to call more than once.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
