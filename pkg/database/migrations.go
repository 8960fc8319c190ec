package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates the full-text search GIN indexes pkg/search's
// lexical candidate query depends on. Expressed here (rather than as a
// numbered migration) so it can be safely re-run on every startup.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_memories_lexical_gin
		ON memories USING gin(to_tsvector('english', title || ' ' || content))`,
		`CREATE INDEX IF NOT EXISTS idx_notes_lexical_gin
		ON notes USING gin(to_tsvector('english', title || ' ' || content))`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create GIN index: %w", err)
		}
	}
	return nil
}
