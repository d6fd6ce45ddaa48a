// Package memory provides an in-memory session store for tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reviewpulse/reviewpulse/internal/session"
)

// Store keeps sessions in a map guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]session.Session
}

// New creates an empty Store.
func New() *Store {
	return &Store{sessions: make(map[uuid.UUID]session.Session)}
}

// Create inserts a session. An existing record with the same ID is
// overwritten.
func (s *Store) Create(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

// Get returns a copy of the stored session.
func (s *Store) Get(_ context.Context, id uuid.UUID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	out := sess
	return &out, nil
}

// Update replaces the stored record.
func (s *Store) Update(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return session.ErrNotFound
	}
	s.sessions[sess.ID] = *sess
	return nil
}

// Cleanup removes sessions created before the cutoff.
func (s *Store) Cleanup(_ context.Context, createdBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(createdBefore) {
			delete(s.sessions, id)
			purged++
		}
	}
	return purged, nil
}

// Close is a no-op.
func (s *Store) Close() {}

// Len reports how many sessions are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
