package realtime

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// EntitySet is an immutable set of entity ids.
type EntitySet struct {
	ids map[string]struct{}
}

// Contains reports whether id is in the set.
func (s EntitySet) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids in the set.
func (s EntitySet) Len() int {
	return len(s.ids)
}

// IsEmpty reports whether the set has no ids.
func (s EntitySet) IsEmpty() bool {
	return len(s.ids) == 0
}

// Matches reports whether events for id should be delivered.
// An empty set matches everything.
func (s EntitySet) Matches(id string) bool {
	return s.IsEmpty() || s.Contains(id)
}

// IDs returns the ids in sorted order.
func (s EntitySet) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscriptions is the set of entities the consumer wants state changes
// for. It survives reconnects and is only cleared on request.
//
// Readers get immutable snapshots and never block writers. Writers are
// serialised and publish a fresh copy on every change.
type Subscriptions struct {
	mu   sync.Mutex
	snap atomic.Pointer[EntitySet]
}

// NewSubscriptions creates a registry seeded with ids.
func NewSubscriptions(ids ...string) *Subscriptions {
	s := &Subscriptions{}
	s.snap.Store(buildSet(nil, ids))
	return s
}

// Add subscribes to id. Blank ids are ignored.
func (s *Subscriptions) Add(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.load()
	if cur.Contains(id) {
		return
	}
	s.snap.Store(buildSet(cur.ids, []string{id}))
}

// Remove unsubscribes from id and reports whether it was subscribed.
// Removing an unknown id is a no-op.
func (s *Subscriptions) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.load()
	if !cur.Contains(id) {
		return false
	}
	next := make(map[string]struct{}, len(cur.ids)-1)
	for k := range cur.ids {
		if k != id {
			next[k] = struct{}{}
		}
	}
	s.snap.Store(&EntitySet{ids: next})
	return true
}

// Clear removes every id, which makes the filter match everything.
func (s *Subscriptions) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Store(&EntitySet{})
}

// Replace swaps the whole set for ids.
func (s *Subscriptions) Replace(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Store(buildSet(nil, ids))
}

// Snapshot returns the current set. The result never changes.
func (s *Subscriptions) Snapshot() EntitySet {
	return *s.load()
}

// Len returns the number of subscribed ids.
func (s *Subscriptions) Len() int {
	return s.load().Len()
}

func (s *Subscriptions) load() *EntitySet {
	if cur := s.snap.Load(); cur != nil {
		return cur
	}
	return &EntitySet{}
}

func buildSet(base map[string]struct{}, add []string) *EntitySet {
	ids := make(map[string]struct{}, len(base)+len(add))
	for id := range base {
		ids[id] = struct{}{}
	}
	for _, id := range add {
		if id = strings.TrimSpace(id); id != "" {
			ids[id] = struct{}{}
		}
	}
	return &EntitySet{ids: ids}
}
