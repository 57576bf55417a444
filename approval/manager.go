// Package approval mediates human review of risky tool calls. The agent
// runner blocks on Await while a chat gateway (or test) resolves the
// request out of band.
package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/agentd/safety"
)

// Policy controls when a tool call is routed through human review.
type Policy string

const (
	// PolicyNever auto-approves everything.
	PolicyNever Policy = "never"
	// PolicyOnRequest asks when the call is flagged or medium/high risk.
	PolicyOnRequest Policy = "on-request"
	// PolicyAlways asks for every call, including low risk.
	PolicyAlways Policy = "always"
)

// DefaultTimeout is how long a request may stay pending before it is
// rejected with reason "timeout".
const DefaultTimeout = 60 * time.Second

// Status is the lifecycle of one approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Request describes one tool call awaiting review. ChatKey identifies
// where the request should be rendered for the operator.
type Request struct {
	ID        string
	ChatKey   string
	ToolName  string
	Summary   string
	Risk      safety.RiskLevel
	Status    Status
	Reason    string
	CreatedAt time.Time
}

// Outcome is the resolution delivered to the waiting caller.
type Outcome struct {
	Approved bool
	Reason   string
}

// NeedsApproval decides whether a call must be reviewed under the policy.
// flagged means the safety validator or the tool itself requested review.
func NeedsApproval(policy Policy, risk safety.RiskLevel, flagged bool) bool {
	switch policy {
	case PolicyNever:
		return false
	case PolicyAlways:
		return true
	default:
		return flagged || risk == safety.RiskHigh || risk == safety.RiskMedium
	}
}

type pendingRequest struct {
	req  Request
	done chan Outcome
}

// Manager tracks pending requests and delivers resolutions. Safe for
// concurrent use.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	timeout time.Duration
	notify  func(Request)
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout overrides the pending timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithNotifier registers a callback invoked when a request is raised,
// typically to render it in the chat channel.
func WithNotifier(fn func(Request)) Option {
	return func(m *Manager) { m.notify = fn }
}

// NewManager creates a Manager with the default timeout.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		pending: make(map[string]*pendingRequest),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Raise registers a pending request and returns it with an assigned id.
func (m *Manager) Raise(chatKey, toolName, summary string, risk safety.RiskLevel) Request {
	req := Request{
		ID:        uuid.NewString(),
		ChatKey:   chatKey,
		ToolName:  toolName,
		Summary:   summary,
		Risk:      risk,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	p := &pendingRequest{req: req, done: make(chan Outcome, 1)}

	m.mu.Lock()
	m.pending[req.ID] = p
	notify := m.notify
	m.mu.Unlock()

	if notify != nil {
		notify(req)
	}
	return req
}

// SetNotifier installs or replaces the raise callback after construction,
// for wiring that cannot happen before the consumer exists.
func (m *Manager) SetNotifier(fn func(Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = fn
}

// Await blocks until the request is resolved, times out, or the context
// ends. Timeout and cancellation both reject; the reason distinguishes them.
func (m *Manager) Await(ctx context.Context, requestID string) Outcome {
	m.mu.Lock()
	p, ok := m.pending[requestID]
	m.mu.Unlock()
	if !ok {
		return Outcome{Approved: false, Reason: "unknown approval request"}
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	var out Outcome
	select {
	case out = <-p.done:
	case <-timer.C:
		out = Outcome{Approved: false, Reason: "timeout"}
	case <-ctx.Done():
		out = Outcome{Approved: false, Reason: "cancelled"}
	}

	m.mu.Lock()
	delete(m.pending, requestID)
	m.mu.Unlock()
	return out
}

// Approve resolves a pending request positively.
func (m *Manager) Approve(requestID string) error {
	return m.resolve(requestID, Outcome{Approved: true, Reason: "approved"})
}

// Reject resolves a pending request negatively with a reason.
func (m *Manager) Reject(requestID, reason string) error {
	if reason == "" {
		reason = "rejected"
	}
	return m.resolve(requestID, Outcome{Approved: false, Reason: reason})
}

func (m *Manager) resolve(requestID string, out Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[requestID]
	if !ok {
		return fmt.Errorf("approval request %s is not pending", requestID)
	}
	select {
	case p.done <- out:
	default:
		// Already resolved once; later resolutions are ignored.
	}
	return nil
}

// Pending lists requests still awaiting resolution, oldest first.
func (m *Manager) Pending() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
