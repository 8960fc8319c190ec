// Package jobqueue implements the durable, at-least-once job pipeline: a
// Postgres-backed store (enqueue/claim/complete/fail) and a worker pool that
// polls it and dispatches claimed jobs to kind-registered handlers.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by Store operations.
var (
	// ErrNoJobsAvailable indicates a claim found no claimable rows.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrAtCapacity indicates the processor pool is at its concurrency limit.
	ErrAtCapacity = errors.New("at capacity")

	// ErrUnknownKind indicates no handler is registered for a claimed job's kind.
	ErrUnknownKind = errors.New("no handler registered for job kind")
)

// Outcome is a handler's disposition for a claimed job.
type Outcome int

const (
	// OutcomeOK marks the job complete.
	OutcomeOK Outcome = iota
	// OutcomeSkip marks the job complete without side effects — the work it
	// would have done is no longer applicable (spec: "silent skip").
	OutcomeSkip
	// OutcomeRetry requests a backed-off re-attempt.
	OutcomeRetry
)

// Handler processes one claimed job and reports its outcome. A non-nil error
// alongside OutcomeRetry becomes the job's last_error; a non-nil error with
// any other outcome is a programming error and is treated as OutcomeRetry.
type Handler func(ctx context.Context, job *Job) (Outcome, error)

// Job mirrors models.Job with the fields a handler needs; kept distinct from
// models.Job so the jobqueue package's public surface doesn't leak storage
// tags.
type Job struct {
	ID             string
	Kind           string
	Payload        []byte
	RunAt          time.Time
	Attempts       int
	IdempotencyKey string
	CreatedAt      time.Time
}

// PendingCount is one row of the pending_counts() aggregation.
type PendingCount struct {
	Kind  string `db:"kind"`
	Count int    `db:"count"`
}
