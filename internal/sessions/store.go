package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryStore implements SessionStore interface with in-memory storage
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemoryStore creates a new in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*Session),
	}
}

// GetSession retrieves a session by ID
func (s *InMemoryStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session with id %s: %w", sessionID, ErrSessionNotFound)
	}

	return session.Clone(), nil
}

// SaveSession creates or replaces a session
func (s *InMemoryStore) SaveSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = session.Clone()
	return nil
}

// ListSessions returns all index entries, newest first
func (s *InMemoryStore) ListSessions(ctx context.Context) ([]IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]IndexEntry, 0, len(s.sessions))
	for _, session := range s.sessions {
		entries = append(entries, session.Entry())
	}
	sortEntries(entries)
	return entries, nil
}

// DeleteSession removes a session
func (s *InMemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return fmt.Errorf("session with id %s: %w", sessionID, ErrSessionNotFound)
	}

	delete(s.sessions, sessionID)
	return nil
}

func sortEntries(entries []IndexEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Time.Equal(entries[j].Time) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Time.After(entries[j].Time)
	})
}
