package guard

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/agentbackend/pkg/errs"
)

// RateGuard enforces a fixed-window emit limit per (recipient, channel).
type RateGuard struct {
	Window       time.Duration
	LimitByChannel map[string]int
	DefaultLimit int
}

// NewRateGuard builds a RateGuard with window (default 1 minute per spec
// §4.H) and per-channel limits; channels absent from limitByChannel fall
// back to defaultLimit.
func NewRateGuard(window time.Duration, limitByChannel map[string]int, defaultLimit int) *RateGuard {
	if window <= 0 {
		window = time.Minute
	}
	if defaultLimit <= 0 {
		defaultLimit = 60
	}
	return &RateGuard{Window: window, LimitByChannel: limitByChannel, DefaultLimit: defaultLimit}
}

func (g *RateGuard) limitFor(channel string) int {
	if n, ok := g.LimitByChannel[channel]; ok {
		return n
	}
	return g.DefaultLimit
}

// bucketStart truncates now to the start of its fixed window.
func (g *RateGuard) bucketStart(now time.Time) time.Time {
	return now.Truncate(g.Window)
}

// Result reports whether the emit is allowed, and if not, how long the
// caller should defer the originating job.
type Result struct {
	Allowed        bool
	RemainingDelay time.Duration
}

// Check increments the current window's counter for (recipient, channel)
// and reports whether the limit was exceeded. When exceeded, the counter is
// still incremented (so the caller sees the same deferral on retry within
// the window) but RemainingDelay tells the caller how long until the
// window rolls over.
func (g *RateGuard) Check(ctx context.Context, tx *sqlx.Tx, recipient, channel string, now time.Time) (Result, error) {
	bucket := g.bucketStart(now)

	var count int
	err := tx.GetContext(ctx, &count, `
		INSERT INTO rate_counters (recipient, channel, bucket_start, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (recipient, channel, bucket_start)
		DO UPDATE SET count = rate_counters.count + 1
		RETURNING count`, recipient, channel, bucket)
	if err != nil {
		return Result{}, errs.NewStorageError("increment rate counter", err)
	}

	limit := g.limitFor(channel)
	if count <= limit {
		return Result{Allowed: true}, nil
	}

	remaining := bucket.Add(g.Window).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: false, RemainingDelay: remaining}, nil
}
