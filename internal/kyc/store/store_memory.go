package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"kycflow/internal/kyc/models"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

// InMemoryStore keeps sessions in process. A per-user mutex serialises
// writers for the same user while different users proceed in parallel.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[id.UserID]*entry
}

type entry struct {
	mu      sync.Mutex
	session *models.Session
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{entries: make(map[id.UserID]*entry)}
}

func (s *InMemoryStore) lookup(userID id.UserID) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	return e, ok
}

func (s *InMemoryStore) lookupOrAdd(userID id.UserID) *entry {
	if e, ok := s.lookup(userID); ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userID]; ok {
		return e
	}
	e := &entry{}
	s.entries[userID] = e
	return e
}

func (s *InMemoryStore) Get(_ context.Context, userID id.UserID) (*models.Session, error) {
	e, ok := s.lookup(userID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, sentinel.ErrNotFound
	}
	return e.session.Clone(), nil
}

func (s *InMemoryStore) Create(_ context.Context, session *models.Session, canReplace ReplaceFunc) error {
	e := s.lookupOrAdd(session.UserID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil && canReplace != nil {
		if err := canReplace(e.session.Clone()); err != nil {
			return err
		}
	}
	e.session = session.Clone()
	return nil
}

func (s *InMemoryStore) Execute(_ context.Context, userID id.UserID, validate ValidateFunc, mutate MutateFunc) (*models.Session, error) {
	e, ok := s.lookup(userID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, sentinel.ErrNotFound
	}

	working := e.session.Clone()
	if validate != nil {
		if err := validate(working); err != nil {
			return nil, err
		}
	}
	mutate(working)
	e.session = working
	return working.Clone(), nil
}

// ListStale returns users whose open session was last updated before cutoff,
// oldest first.
func (s *InMemoryStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]id.UserID, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	type stale struct {
		userID    id.UserID
		updatedAt time.Time
	}
	var found []stale
	for _, e := range entries {
		e.mu.Lock()
		if e.session != nil && isOpen(e.session) && e.session.UpdatedAt.Before(cutoff) {
			found = append(found, stale{userID: e.session.UserID, updatedAt: e.session.UpdatedAt})
		}
		e.mu.Unlock()
	}
	sort.Slice(found, func(i, j int) bool { return found[i].updatedAt.Before(found[j].updatedAt) })

	out := make([]id.UserID, 0, min(limit, len(found)))
	for _, f := range found[:min(limit, len(found))] {
		out = append(out, f.userID)
	}
	return out, nil
}

func (s *InMemoryStore) Health(context.Context) error { return nil }
