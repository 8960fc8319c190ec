// Package guard implements the emission-time safety checks required before
// a notification leaves the system: per-key dedup within a TTL window,
// per-recipient/channel rate limiting, and quiet-hours suppression. Dedup
// and rate both read-then-write within the caller's transaction so the
// check and the record it produces commit atomically with the emission
// they gate.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/agentbackend/pkg/errs"
)

// DedupKey builds the dedup key as a sha256 hex digest of
// kind || recipient || dedup_grouping.
func DedupKey(kind, recipient, dedupGrouping string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte(recipient))
	h.Write([]byte(dedupGrouping))
	return hex.EncodeToString(h.Sum(nil))
}

// DedupGuard checks and records dedup entries against a caller-supplied
// window.
type DedupGuard struct {
	Window time.Duration
}

// NewDedupGuard builds a DedupGuard with window, defaulting to 10 minutes.
func NewDedupGuard(window time.Duration) *DedupGuard {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &DedupGuard{Window: window}
}

// Allow reports whether key has not been seen within the window (and, if
// so, records it in tx so the check and the record commit together). A
// false return means the caller must skip the emit.
func (g *DedupGuard) Allow(ctx context.Context, tx *sqlx.Tx, key string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM dedup_entries
			WHERE key = $1 AND created_at > now() - ($2 * interval '1 second')
		)`, key, g.Window.Seconds())
	if err != nil {
		return false, errs.NewStorageError("check dedup entry", err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dedup_entries (key, created_at) VALUES ($1, now())
		ON CONFLICT (key) DO UPDATE SET created_at = now()`, key); err != nil {
		return false, errs.NewStorageError("record dedup entry", err)
	}
	return true, nil
}
