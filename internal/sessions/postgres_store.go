package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chatppt/chatppt/internal/slides"
)

// PostgresStore implements SessionStore interface with PostgreSQL storage
type PostgresStore struct {
	db *bun.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

// SessionSchema represents the chat_sessions table schema
type SessionSchema struct {
	bun.BaseModel `bun:"table:chat_sessions,alias:cs"`

	ID        string          `bun:"id,pk" json:"id"`
	Title     string          `bun:"title,notnull" json:"title"`
	Preview   string          `bun:"preview,notnull" json:"preview"`
	Phase     string          `bun:"phase,notnull" json:"phase"`
	Messages  []Message       `bun:"messages,type:jsonb,notnull" json:"messages"`
	Slides    slides.Document `bun:"slides,type:jsonb,notnull" json:"slides"`
	CreatedAt time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
	DeletedAt *time.Time      `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
}

// OpenDB connects to PostgreSQL and verifies the connection
func OpenDB(ctx context.Context, dsn string, maxConnections int) (*bun.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if maxConnections <= 0 {
		maxConnections = 10
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	sqldb.SetMaxOpenConns(maxConnections)
	sqldb.SetMaxIdleConns(maxConnections / 2)
	sqldb.SetConnMaxLifetime(time.Hour)

	db := bun.NewDB(sqldb, pgdialect.New())

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// GetSession retrieves a session by ID (active sessions only)
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var schema SessionSchema
	err := s.db.NewSelect().
		Model(&schema).
		Where("id = ?", sessionID).
		Where("deleted_at IS NULL").
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session with id %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return schemaToSession(schema), nil
}

// SaveSession upserts a session. Saving a soft-deleted id brings it back.
func (s *PostgresStore) SaveSession(ctx context.Context, session *Session) error {
	schema := sessionToSchema(session)

	_, err := s.db.NewInsert().
		Model(schema).
		On("CONFLICT (id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("preview = EXCLUDED.preview").
		Set("phase = EXCLUDED.phase").
		Set("messages = EXCLUDED.messages").
		Set("slides = EXCLUDED.slides").
		Set("updated_at = EXCLUDED.updated_at").
		Set("deleted_at = NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// ListSessions returns index entries without loading message or slide bodies
func (s *PostgresStore) ListSessions(ctx context.Context) ([]IndexEntry, error) {
	var rows []SessionSchema
	err := s.db.NewSelect().
		Model(&rows).
		Column("id", "title", "preview", "updated_at").
		Where("deleted_at IS NULL").
		Order("updated_at DESC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	entries := make([]IndexEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, IndexEntry{
			ID:      row.ID,
			Title:   row.Title,
			Time:    row.UpdatedAt,
			Preview: row.Preview,
		})
	}
	return entries, nil
}

// DeleteSession soft-deletes a session by setting deleted_at timestamp
func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	now := time.Now()

	result, err := s.db.NewUpdate().
		Model((*SessionSchema)(nil)).
		Where("id = ?", sessionID).
		Where("deleted_at IS NULL").
		Set("deleted_at = ?", now).
		Set("updated_at = ?", now).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("session with id %s: %w", sessionID, ErrSessionNotFound)
	}

	return nil
}

func sessionToSchema(session *Session) *SessionSchema {
	c := session.Clone()
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return &SessionSchema{
		ID:        c.ID,
		Title:     c.Title,
		Preview:   c.Preview(),
		Phase:     string(c.Phase),
		Messages:  c.Messages,
		Slides:    c.Slides,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// schemaToSession converts database schema to session model
func schemaToSession(schema SessionSchema) *Session {
	doc := schema.Slides
	if doc == nil {
		doc = slides.Document{}
	}
	return &Session{
		ID:        schema.ID,
		Title:     schema.Title,
		Messages:  schema.Messages,
		Slides:    doc,
		Phase:     Phase(schema.Phase),
		CreatedAt: schema.CreatedAt,
		UpdatedAt: schema.UpdatedAt,
	}
}
