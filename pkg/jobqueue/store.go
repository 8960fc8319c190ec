package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/agentbackend/pkg/errs"
	"github.com/codeready-toolchain/agentbackend/pkg/models"
)

// Store is the Postgres-backed job queue: enqueue, claim, complete, fail,
// and pending-count aggregation, using FOR UPDATE SKIP LOCKED for claims
// instead of a row-level application lock.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db as a Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Queryer is satisfied by both *sqlx.DB and *sqlx.Tx, letting Enqueue and
// CancelPending participate in a caller-owned transaction (the work-item
// write path) or run standalone (the scheduler's cron path).
type Queryer interface {
	sqlx.ExecerContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

// Enqueue inserts a job row. If idempotencyKey is non-empty and a pending
// row with the same (kind, idempotency_key) exists, the insert is a no-op —
// enforced by the partial unique index on the jobs table.
func (s *Store) Enqueue(ctx context.Context, q Queryer, kind string, runAt time.Time, payload []byte, idempotencyKey string) (string, error) {
	id := uuid.NewString()

	var key any
	if idempotencyKey != "" {
		key = idempotencyKey
	}

	const query = `
		INSERT INTO jobs (id, kind, payload, run_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, idempotency_key) WHERE completed_at IS NULL AND idempotency_key IS NOT NULL AND idempotency_key <> ''
		DO NOTHING
		RETURNING id`

	var returnedID string
	err := q.GetContext(ctx, &returnedID, query, id, kind, payload, runAt, key)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict hit DO NOTHING: an equivalent pending job already exists.
		return "", nil
	}
	if err != nil {
		return "", errs.NewStorageError("enqueue job", err)
	}
	return returnedID, nil
}

// CancelPending marks any still-pending job of kind whose idempotency_key is
// not exceptKey and whose payload references workItemID as complete. This
// implements the "timestamp removed or moved earlier" cancel rule without
// ever deleting the row.
func (s *Store) CancelPending(ctx context.Context, q Queryer, kind, workItemID, exceptKey string) error {
	const query = `
		UPDATE jobs
		SET completed_at = now(), locked_by = NULL, locked_until = NULL
		WHERE kind = $1
		  AND completed_at IS NULL
		  AND idempotency_key IS DISTINCT FROM $2
		  AND payload->>'work_item_id' = $3`

	if _, err := q.ExecContext(ctx, query, kind, exceptKey, workItemID); err != nil {
		return errs.NewStorageError("cancel pending job", err)
	}
	return nil
}

// Claim atomically selects up to batchSize claimable rows ordered by
// run_at asc, id asc, stamping locked_by/locked_until. Concurrent claimers
// never block each other: FOR UPDATE SKIP LOCKED skips rows already locked
// by another transaction.
func (s *Store) Claim(ctx context.Context, workerID string, batchSize int, lockDuration time.Duration) ([]*Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errs.NewStorageError("begin claim tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	const selectQuery = `
		SELECT id, kind, payload, run_at, attempts, idempotency_key, created_at
		FROM jobs
		WHERE completed_at IS NULL
		  AND run_at <= $1
		  AND (locked_by IS NULL OR locked_until < $1)
		ORDER BY run_at ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.QueryxContext(ctx, selectQuery, now, batchSize)
	if err != nil {
		return nil, errs.NewStorageError("claim select", err)
	}

	var claimed []*Job
	var ids []string
	for rows.Next() {
		var row models.Job
		if err := rows.StructScan(&row); err != nil {
			_ = rows.Close()
			return nil, errs.NewStorageError("claim scan", err)
		}
		claimed = append(claimed, &Job{
			ID:             row.ID,
			Kind:           row.Kind,
			Payload:        row.Payload,
			RunAt:          row.RunAt,
			Attempts:       row.Attempts,
			IdempotencyKey: row.IdempotencyKey,
			CreatedAt:      row.CreatedAt,
		})
		ids = append(ids, row.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, errs.NewStorageError("claim rows", err)
	}
	_ = rows.Close()

	if len(claimed) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, errs.NewStorageError("commit empty claim", err)
		}
		return nil, ErrNoJobsAvailable
	}

	lockedUntil := now.Add(lockDuration)
	const lockQuery = `
		UPDATE jobs SET locked_by = $1, locked_until = $2
		WHERE id = ANY($3::uuid[])`
	if _, err := tx.ExecContext(ctx, lockQuery, workerID, lockedUntil, pqStringArray(ids)); err != nil {
		return nil, errs.NewStorageError("claim lock", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.NewStorageError("commit claim", err)
	}

	return claimed, nil
}

// Complete stamps completed_at and clears the lock. Rejects with
// errs.ErrNotLocked if the row is not currently locked by workerID.
func (s *Store) Complete(ctx context.Context, jobID, workerID string) error {
	const query = `
		UPDATE jobs
		SET completed_at = now(), locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND locked_by = $2`
	res, err := s.db.ExecContext(ctx, query, jobID, workerID)
	if err != nil {
		return errs.NewStorageError("complete job", err)
	}
	return requireRowsAffected(res)
}

// Fail increments attempts, records lastErr, reschedules run_at, and clears
// the lock. Never touches completed_at.
func (s *Store) Fail(ctx context.Context, jobID, workerID string, lastErr error, delay time.Duration) error {
	var msg any
	if lastErr != nil {
		msg = lastErr.Error()
	}

	const query = `
		UPDATE jobs
		SET attempts = attempts + 1,
		    last_error = $3,
		    run_at = now() + ($4 * interval '1 second'),
		    locked_by = NULL,
		    locked_until = NULL
		WHERE id = $1 AND locked_by = $2`
	res, err := s.db.ExecContext(ctx, query, jobID, workerID, msg, delay.Seconds())
	if err != nil {
		return errs.NewStorageError("fail job", err)
	}
	return requireRowsAffected(res)
}

// PendingCounts groups non-completed rows by kind.
func (s *Store) PendingCounts(ctx context.Context) ([]PendingCount, error) {
	const query = `
		SELECT kind, count(*) AS count
		FROM jobs
		WHERE completed_at IS NULL
		GROUP BY kind
		ORDER BY kind`

	var counts []PendingCount
	if err := s.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, errs.NewStorageError("pending counts", err)
	}
	return counts, nil
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errs.NewStorageError("rows affected", err)
	}
	if n == 0 {
		return errs.ErrNotLocked
	}
	return nil
}

func pqStringArray(ids []string) string {
	// Postgres array literal, safe here because ids are our own uuid.NewString() values.
	out := "{"
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out + "}"
}
