package apisource

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/agentbackend/pkg/errs"
	"github.com/codeready-toolchain/agentbackend/pkg/models"
)

// systemUserEmail tags memories derived from an API refresh rather than
// authored by a person.
const systemUserEmail = "system@agentbackend.internal"

// Store persists api_sources rows and the memories derived from their spec
// documents.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db as a Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Load fetches an api_sources row by id.
func (s *Store) Load(ctx context.Context, id string) (*models.APISource, error) {
	var src models.APISource
	err := s.db.GetContext(ctx, &src, `SELECT * FROM api_sources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.NewStorageError("load api source", err)
	}
	return &src, nil
}

// namespaceFor derives the memory namespace a source's derived rows live
// in, scoping them away from user-authored memories.
func namespaceFor(source *models.APISource) string {
	return "api-source:" + source.Name
}

// ApplyRefresh persists newSpec as source's last-seen spec and syncs the
// derived memories table to match diff, all within one transaction so a
// partial sync never leaves last_spec pointing past memories that were
// never written.
func (s *Store) ApplyRefresh(ctx context.Context, source *models.APISource, newSpec []byte, entries map[string][]byte, diff Diff) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.NewStorageError("begin api source refresh tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	namespace := namespaceFor(source)

	for _, key := range append(append([]string{}, diff.Created...), diff.Updated...) {
		content := entries[key]
		const upsert = `
			INSERT INTO memories (id, namespace, memory_type, title, content, embedding_status, tags, importance, user_email, created_at, updated_at)
			VALUES ($1, $2, 'context', $3, $4, 'pending', '{}', 5, $5, now(), now())
			ON CONFLICT DO NOTHING`
		// memories has no natural unique key on (namespace, title); look up
		// first so repeated refreshes update in place instead of duplicating.
		var existingID string
		lookupErr := tx.GetContext(ctx, &existingID,
			`SELECT id FROM memories WHERE namespace = $1 AND title = $2`, namespace, key)
		switch {
		case errors.Is(lookupErr, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, upsert, uuid.NewString(), namespace, key, content, systemUserEmail); err != nil {
				return errs.NewStorageError("insert derived memory", err)
			}
		case lookupErr != nil:
			return errs.NewStorageError("lookup derived memory", lookupErr)
		default:
			const update = `
				UPDATE memories
				SET content = $3, embedding_status = 'pending', embedding = NULL, updated_at = now()
				WHERE id = $1 AND namespace = $2`
			if _, err := tx.ExecContext(ctx, update, existingID, namespace, content); err != nil {
				return errs.NewStorageError("update derived memory", err)
			}
		}
	}

	for _, key := range diff.Deleted {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memories WHERE namespace = $1 AND title = $2`, namespace, key); err != nil {
			return errs.NewStorageError("delete derived memory", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE api_sources SET last_spec = $2, last_fetched_at = now(), updated_at = now() WHERE id = $1`,
		source.ID, newSpec); err != nil {
		return errs.NewStorageError("update api source spec", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.NewStorageError("commit api source refresh", err)
	}
	return nil
}
