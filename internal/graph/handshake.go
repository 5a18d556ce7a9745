package graph

import (
	"strings"
	"sync"
	"time"
)

const handshakeRetention = 10 * time.Minute

type pendingHandshake struct {
	resource string
	failedAt time.Time
}

// HandshakeTracker correlates Graph request ids from timed-out subscription
// creations with validation handshakes that arrive later.
type HandshakeTracker struct {
	mu      sync.Mutex
	pending map[string]pendingHandshake
	now     func() time.Time
}

// NewHandshakeTracker returns an empty tracker.
func NewHandshakeTracker() *HandshakeTracker {
	return &HandshakeTracker{pending: make(map[string]pendingHandshake), now: time.Now}
}

// Record remembers a request id that Graph reported as a validation timeout.
func (t *HandshakeTracker) Record(requestID, resource string) {
	if t == nil || requestID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, p := range t.pending {
		if now.Sub(p.failedAt) > handshakeRetention {
			delete(t.pending, id)
		}
	}
	t.pending[strings.ToLower(requestID)] = pendingHandshake{resource: resource, failedAt: now}
}

// Match looks for a recorded request id inside a validation token. It returns the
// resource and the delay between the reported timeout and now.
func (t *HandshakeTracker) Match(token string) (string, time.Duration, bool) {
	if t == nil {
		return "", 0, false
	}
	requestID := requestIDFromToken(token)
	if requestID == "" {
		return "", 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[requestID]
	if !ok {
		return "", 0, false
	}
	delete(t.pending, requestID)
	return p.resource, t.now().Sub(p.failedAt), true
}

// Len reports how many request ids are awaiting a handshake.
func (t *HandshakeTracker) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func requestIDFromToken(token string) string {
	lower := strings.ToLower(token)
	idx := strings.Index(lower, "request-id:")
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(lower[idx+len("request-id:"):])
	if end := strings.IndexAny(rest, " \t\r\n"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
