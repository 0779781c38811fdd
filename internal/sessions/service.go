package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionService implements the SessionManager interface
type SessionService struct {
	store  SessionStore
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(store SessionStore, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// NewService creates a new session service (alias for NewSessionService)
func NewService(store SessionStore, logger *zap.Logger) *SessionService {
	return NewSessionService(store, logger)
}

// NewSession creates a session with a fresh id. It is not stored until it holds a conversation.
func (s *SessionService) NewSession() *Session {
	return New(uuid.NewString(), s.now())
}

// Load retrieves a session by id
func (s *SessionService) Load(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	return s.store.GetSession(ctx, sessionID)
}

// Save persists the session after deriving its title and bumping updated_at.
// A pristine session is not stored; any earlier record of it is removed instead.
func (s *SessionService) Save(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session_id is required")
	}

	if session.IsPristine() {
		err := s.store.DeleteSession(ctx, session.ID)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return fmt.Errorf("failed to drop pristine session: %w", err)
		}
		return nil
	}

	session.DeriveTitle()
	session.UpdatedAt = s.now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.UpdatedAt
	}

	if err := s.store.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Debug("Session saved",
		zap.String("session_id", session.ID),
		zap.String("phase", string(session.Phase)),
		zap.Int("messages", len(session.Messages)),
		zap.Int("slides", len(session.Slides)))
	return nil
}

// Rename changes the title of a stored session
func (s *SessionService) Rename(ctx context.Context, sessionID, title string) (*Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session.Title = title
	session.UpdatedAt = s.now()
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to rename session: %w", err)
	}
	return session, nil
}

// Delete removes a session
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}

	s.logger.Info("Session deleted", zap.String("session_id", sessionID))
	return nil
}

// List returns the history index, newest first
func (s *SessionService) List(ctx context.Context) ([]IndexEntry, error) {
	return s.store.ListSessions(ctx)
}
