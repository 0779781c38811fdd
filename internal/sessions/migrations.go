package sessions

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

var sessionIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated_at ON chat_sessions (updated_at DESC) WHERE deleted_at IS NULL`,
}

// CreateTables creates the session tables and indexes if they do not exist
func CreateTables(ctx context.Context, db *bun.DB) error {
	models := []interface{}{
		(*SessionSchema)(nil),
	}

	for _, model := range models {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table for model %T: %w", model, err)
		}
	}

	for _, indexSQL := range sessionIndexes {
		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("failed to create index with SQL %q: %w", indexSQL, err)
		}
	}

	return nil
}
