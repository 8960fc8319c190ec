package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/agentbackend/pkg/errs"
	"github.com/codeready-toolchain/agentbackend/pkg/guard"
)

// ErrRateLimited is returned by GuardedEnqueuer.Enqueue when the
// (destination, kind) emit rate exceeds the configured window limit; the
// caller (a job handler) should surface this as a retryable outcome so the
// processor's own backoff re-attempts the emit later, without the outbox
// layer needing to reach back into the job queue to compute a precise
// re-enqueue delay.
var ErrRateLimited = errors.New("emit rate limit exceeded")

// GuardedEnqueuer wraps Store with the emission-time safety checks (dedup,
// then rate) before inserting the outbox row, all within one transaction
// so the guard record and the row commit atomically. Implements
// jobqueue.OutboxEnqueuer.
type GuardedEnqueuer struct {
	store *Store
	dedup *guard.DedupGuard
	rate  *guard.RateGuard
}

// NewGuardedEnqueuer builds a GuardedEnqueuer from an already-constructed
// Store and guards.
func NewGuardedEnqueuer(store *Store, dedup *guard.DedupGuard, rate *guard.RateGuard) *GuardedEnqueuer {
	return &GuardedEnqueuer{store: store, dedup: dedup, rate: rate}
}

// Enqueue checks dedup then rate for (kind, destination, idempotencyKey)
// and, if both pass, inserts the row. A dedup hit is a silent no-op (spec:
// "skip the emit"); a rate-limit hit returns ErrRateLimited so the caller
// retries later.
func (g *GuardedEnqueuer) Enqueue(ctx context.Context, kind, destination string, body []byte, idempotencyKey string) (string, error) {
	tx, err := g.store.BeginTx(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	key := guard.DedupKey(kind, destination, idempotencyKey)
	allowed, err := g.dedup.Allow(ctx, tx, key)
	if err != nil {
		return "", fmt.Errorf("dedup check: %w", err)
	}
	if !allowed {
		return "", tx.Commit()
	}

	result, err := g.rate.Check(ctx, tx, destination, kind, time.Now())
	if err != nil {
		return "", fmt.Errorf("rate check: %w", err)
	}
	if !result.Allowed {
		if err := tx.Commit(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: retry after %s", ErrRateLimited, result.RemainingDelay)
	}

	id, err := g.store.EnqueueTx(ctx, tx, kind, destination, body, idempotencyKey)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", errs.NewStorageError("commit guarded enqueue", err)
	}
	return id, nil
}
