package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	sessionKeyPrefix = "chatppt_session_"
	historyIndexKey  = "chatppt_history_index"
)

// FileStore keeps one JSON file per session plus an index file in a directory.
// Every write goes to a temp file that is synced and renamed over the target.
type FileStore struct {
	mu     sync.RWMutex
	dir    string
	index  map[string]IndexEntry
	logger *zap.Logger
}

// NewFileStore opens (creating if needed) a store rooted at dir
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	store := &FileStore{
		dir:    dir,
		index:  make(map[string]IndexEntry),
		logger: logger,
	}
	if err := store.loadIndex(); err != nil {
		return nil, err
	}
	return store, nil
}

// Dir returns the directory the store writes to
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) sessionPath(sessionID string) string {
	// ids are generated uuids, but never let one escape the directory
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(sessionID)
	return filepath.Join(s.dir, sessionKeyPrefix+safe+".json")
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.dir, historyIndexKey+".json")
}

// loadIndex reads the index file, treating a missing or corrupt file as empty
func (s *FileStore) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read session index: %w", err)
	}

	var entries []IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("Session index is corrupt, starting empty", zap.String("path", s.indexPath()), zap.Error(err))
		return nil
	}
	for _, e := range entries {
		s.index[e.ID] = e
	}
	return nil
}

// GetSession reads a session file
func (s *FileStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.sessionPath(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("session with id %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// SaveSession writes the session file, then the index
func (s *FileStore) SaveSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := writeFileAtomic(s.sessionPath(session.ID), data); err != nil {
		return err
	}

	previous, existed := s.index[session.ID]
	s.index[session.ID] = session.Entry()
	if err := s.saveIndex(); err != nil {
		if existed {
			s.index[session.ID] = previous
		} else {
			delete(s.index, session.ID)
		}
		return err
	}
	return nil
}

// ListSessions returns the index, newest first
func (s *FileStore) ListSessions(ctx context.Context) ([]IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]IndexEntry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

// DeleteSession removes the session file and its index entry
func (s *FileStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.sessionPath(sessionID))
	_, indexed := s.index[sessionID]
	if errors.Is(err, os.ErrNotExist) && !indexed {
		return fmt.Errorf("session with id %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if indexed {
		delete(s.index, sessionID)
		return s.saveIndex()
	}
	return nil
}

// saveIndex must be called with lock held
func (s *FileStore) saveIndex() error {
	entries := make([]IndexEntry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	sortEntries(entries)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session index: %w", err)
	}
	return writeFileAtomic(s.indexPath(), data)
}

// writeFileAtomic writes data next to path, syncs it and renames it into place
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
