package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session under "<prefix>session_<id>" and the index as a hash
// under "<prefix>history_index" keyed by session id.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store on an existing client. prefix defaults to "chatppt_".
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "chatppt_"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + "session_" + sessionID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "history_index"
}

// GetSession retrieves a session by ID
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.rdb.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session with id %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// SaveSession writes the record and its index entry in one transaction
func (s *RedisStore) SaveSession(ctx context.Context, session *Session) error {
	record, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	entry, err := json.Marshal(session.Entry())
	if err != nil {
		return fmt.Errorf("failed to marshal index entry: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(session.ID), record, 0)
		pipe.HSet(ctx, s.indexKey(), session.ID, entry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// ListSessions returns the index, newest first. Undecodable entries are skipped.
func (s *RedisStore) ListSessions(ctx context.Context) ([]IndexEntry, error) {
	raw, err := s.rdb.HGetAll(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	entries := make([]IndexEntry, 0, len(raw))
	for _, value := range raw {
		var e IndexEntry
		if err := json.Unmarshal([]byte(value), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

// DeleteSession removes the record and its index entry
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	var deleted *redis.IntCmd
	var unindexed *redis.IntCmd

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, s.sessionKey(sessionID))
		unindexed = pipe.HDel(ctx, s.indexKey(), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if deleted.Val() == 0 && unindexed.Val() == 0 {
		return fmt.Errorf("session with id %s: %w", sessionID, ErrSessionNotFound)
	}
	return nil
}
