package realtime

import (
	"sync"
	"time"
)

// Status is a point-in-time summary of the event stream as seen by a
// StatusTracker.
type Status struct {
	Connected      bool      `json:"connected"`
	ConnectedSince time.Time `json:"connected_since,omitzero"`
	LastEventAt    time.Time `json:"last_event_at,omitzero"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorAt    time.Time `json:"last_error_at,omitzero"`
	Connects       uint64    `json:"connects"`
	Disconnects    uint64    `json:"disconnects"`
	StateChanges   uint64    `json:"state_changes"`
	Notifications  uint64    `json:"notifications"`
	Errors         uint64    `json:"errors"`
}

// StatusTracker is an Observer that keeps a running Status.
type StatusTracker struct {
	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{now: time.Now}
}

// Status returns the current summary.
func (t *StatusTracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *StatusTracker) OnConnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Connected = true
	t.status.ConnectedSince = t.now()
	t.status.Connects++
}

func (t *StatusTracker) OnDisconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Connected = false
	t.status.ConnectedSince = time.Time{}
	t.status.Disconnects++
}

func (t *StatusTracker) OnStateChanged(string, EntityState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.StateChanges++
	t.status.LastEventAt = t.now()
}

func (t *StatusTracker) OnNotification(string, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Notifications++
	t.status.LastEventAt = t.now()
}

func (t *StatusTracker) OnError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Errors++
	t.status.LastError = message
	t.status.LastErrorAt = t.now()
}
