package memory

import (
	"context"
	"sync"
	"time"

	"proctorlink/internal/core/domain"
)

// SessionStore is the in-memory device store, used in tests and when no
// durable backend is configured.
type SessionStore struct {
	mu sync.RWMutex
	id domain.SessionID
}

func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

func (s *SessionStore) Load(ctx context.Context) (domain.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.id == "" {
		return "", domain.ErrSessionNotFound
	}
	return s.id, nil
}

func (s *SessionStore) Save(ctx context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}

func (s *SessionStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	return nil
}

// SessionRegistry is the in-memory gateway registry, used when redis is
// disabled.
type SessionRegistry struct {
	mu       sync.RWMutex
	lastSeen map[domain.SessionID]time.Time
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{lastSeen: make(map[domain.SessionID]time.Time)}
}

func (r *SessionRegistry) Touch(ctx context.Context, id domain.SessionID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen[id] = at
	return nil
}

func (r *SessionRegistry) LastSeen(ctx context.Context, id domain.SessionID) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.lastSeen[id]
	if !ok {
		return time.Time{}, domain.ErrSessionNotFound
	}
	return at, nil
}

func (r *SessionRegistry) Active(ctx context.Context, window time.Duration) ([]domain.SessionID, error) {
	cutoff := time.Now().Add(-window)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []domain.SessionID
	for id, at := range r.lastSeen {
		if at.After(cutoff) {
			active = append(active, id)
		}
	}
	return active, nil
}

func (r *SessionRegistry) Remove(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastSeen, id)
	return nil
}
