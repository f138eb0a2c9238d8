// Package memory keeps the most recent audit events in process. It backs
// development setups that run without a Kafka broker.
package memory

import (
	"context"
	"sync"

	id "kycflow/pkg/domain"
	audit "kycflow/pkg/platform/audit"
)

const defaultCapacity = 10_000

// InMemoryStore is a fixed-size ring; once full, the oldest event is
// overwritten.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	next   int
	full   bool
}

// NewInMemoryStore returns a store retaining up to capacity events. A
// non-positive capacity selects the default.
func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &InMemoryStore{events: make([]audit.Event, capacity)}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[s.next] = event
	s.next = (s.next + 1) % len(s.events)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// ListByUser returns the user's retained events, oldest first.
func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	s.each(func(e audit.Event) {
		if e.UserID == userID {
			out = append(out, e)
		}
	})
	return out, nil
}

// Len reports how many events are retained.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.events)
	}
	return s.next
}

func (s *InMemoryStore) each(fn func(audit.Event)) {
	if s.full {
		for _, e := range s.events[s.next:] {
			fn(e)
		}
	}
	for _, e := range s.events[:s.next] {
		fn(e)
	}
}
