package sessions

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned by stores for unknown session ids
var ErrSessionNotFound = errors.New("session not found")

// SessionManager defines the interface for session operations
type SessionManager interface {
	NewSession() *Session
	Load(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Rename(ctx context.Context, sessionID, title string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]IndexEntry, error)
}

// SessionStore defines the interface for session storage operations.
//
// Implementations store and return deep copies; a caller may keep mutating a
// session after saving it. SaveSession writes the record and its index entry
// together.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	SaveSession(ctx context.Context, session *Session) error
	// ListSessions returns index entries, most recently updated first
	ListSessions(ctx context.Context) ([]IndexEntry, error)
	DeleteSession(ctx context.Context, sessionID string) error
}
