package gateway

import (
	"sync"
	"time"
)

const defaultProgressInterval = 2 * time.Second

// Throttle batches status lines so at most one message per interval is
// sent. Lines arriving inside the window accumulate and flush together.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	lastSent time.Time
	pending  []string
	now      func() time.Time
}

// NewThrottle creates a Throttle with the given minimum interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, now: time.Now}
}

// Add queues a line. When the interval since the last send has elapsed,
// it returns the accumulated batch and true; otherwise the line stays
// queued and ok is false.
func (t *Throttle) Add(line string) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, line)
	if t.now().Sub(t.lastSent) < t.interval {
		return nil, false
	}
	return t.drain(), true
}

// Flush returns whatever is still queued, regardless of the interval.
func (t *Throttle) Flush() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return nil
	}
	return t.drain()
}

func (t *Throttle) drain() []string {
	out := t.pending
	t.pending = nil
	t.lastSent = t.now()
	return out
}
