package outbox

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

// Store is the Postgres-backed webhook outbox: a lease-batch-then-mark
// worker pattern over rows carrying an HTTP destination, HMAC signing
// metadata, and a dead-letter flag in place of a status enum.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db as a Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Enqueue inserts a row, no-oping if (kind, idempotency_key) already exists
// — delivered or dead-lettered rows permanently block reuse of the same
// key, guaranteeing at most one successful delivery per key.
func (s *Store) Enqueue(ctx context.Context, kind, destination string, body []byte, idempotencyKey string) (string, error) {
	return enqueueRow(ctx, s.db, kind, destination, body, idempotencyKey)
}

// EnqueueTx is Enqueue scoped to a caller-managed transaction, used by
// GuardedEnqueuer so the dedup/rate check and the insert it gates commit
// atomically.
func (s *Store) EnqueueTx(ctx context.Context, tx *sqlx.Tx, kind, destination string, body []byte, idempotencyKey string) (string, error) {
	return enqueueRow(ctx, tx, kind, destination, body, idempotencyKey)
}

// queryer is the subset of *sqlx.DB / *sqlx.Tx enqueueRow needs.
type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

func enqueueRow(ctx context.Context, q queryer, kind, destination string, body []byte, idempotencyKey string) (string, error) {
	id := uuid.NewString()

	const query = `
		INSERT INTO outbox_messages (id, kind, destination, body, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, idempotency_key) DO NOTHING
		RETURNING id`

	var returnedID string
	err := q.GetContext(ctx, &returnedID, query, id, kind, destination, body, idempotencyKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errs.NewStorageError("enqueue outbox message", err)
	}
	return returnedID, nil
}

// Drain leases up to batchSize rows due for delivery, ordered by
// next_attempt_at asc, within the caller-provided transaction so the
// delivery worker can mark each row done/failed/dead-lettered in the same
// transaction it was leased in.
func (s *Store) Drain(ctx context.Context, tx *sqlx.Tx, batchSize int) ([]*models.OutboxMessage, error) {
	const query = `
		SELECT * FROM outbox_messages
		WHERE delivered_at IS NULL AND dead_letter = false AND next_attempt_at <= now()
		ORDER BY next_attempt_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	var rows []*models.OutboxMessage
	if err := tx.SelectContext(ctx, &rows, query, batchSize); err != nil {
		return nil, errs.NewStorageError("drain outbox", err)
	}
	return rows, nil
}

// MarkDelivered stamps delivered_at and the response status.
func (s *Store) MarkDelivered(ctx context.Context, tx *sqlx.Tx, id string, status int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE outbox_messages SET delivered_at = now(), last_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return errs.NewStorageError("mark outbox delivered", err)
	}
	return nil
}

// MarkDeadLetter stamps dead_letter = true terminally.
func (s *Store) MarkDeadLetter(ctx context.Context, tx *sqlx.Tx, id string, status *int, lastErr string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE outbox_messages SET dead_letter = true, last_status = $2, last_error = $3 WHERE id = $1`,
		id, status, lastErr)
	if err != nil {
		return errs.NewStorageError("mark outbox dead letter", err)
	}
	return nil
}

// MarkRetry increments attempts and reschedules next_attempt_at.
func (s *Store) MarkRetry(ctx context.Context, tx *sqlx.Tx, id string, status *int, lastErr string, delay time.Duration) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE outbox_messages
		 SET attempts = attempts + 1,
		     last_status = $2,
		     last_error = $3,
		     next_attempt_at = now() + ($4 * interval '1 second')
		 WHERE id = $1`,
		id, status, lastErr, delay.Seconds())
	if err != nil {
		return errs.NewStorageError("mark outbox retry", err)
	}
	return nil
}

// BeginTx starts a transaction for the delivery worker's drain cycle.
func (s *Store) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errs.NewStorageError("begin outbox tx", err)
	}
	return tx, nil
}
