package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/agentbackend/pkg/errs"
	"github.com/codeready-toolchain/agentbackend/pkg/jobqueue"
)

// MissedTimestampSweep re-scans work_items for not_before/not_after
// instants that have passed but have no corresponding pending or completed
// job row. This covers the write-time path's enqueue never having run at
// all — a process crash between commit and the caller observing success is
// not possible here since enqueue is inside the same transaction, but a
// row inserted by a bulk/migration path outside pkg/workitems would miss
// it.
type MissedTimestampSweep struct{}

type missedRow struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	NotBefore *time.Time `db:"not_before"`
	NotAfter  *time.Time `db:"not_after"`
}

func (MissedTimestampSweep) Run(ctx context.Context, db *sqlx.DB, jobs *jobqueue.Store, now time.Time) error {
	var rows []missedRow
	const query = `
		SELECT id, title, not_before, not_after FROM work_items
		WHERE deleted_at IS NULL
		  AND status NOT IN ('done', 'cancelled')
		  AND (
		    (not_before IS NOT NULL AND not_before <= $1) OR
		    (not_after IS NOT NULL AND not_after <= $1)
		  )`
	if err := db.SelectContext(ctx, &rows, query, now); err != nil {
		return errs.NewStorageError("scan missed work item timestamps", err)
	}

	for _, row := range rows {
		if row.NotBefore != nil {
			key := fmt.Sprintf("%s:reminder.work_item.not_before:%s", row.ID, row.NotBefore.UTC().Format(time.RFC3339))
			payload, _ := json.Marshal(map[string]any{"work_item_id": row.ID, "not_before": row.NotBefore})
			if _, err := jobs.Enqueue(ctx, db, "reminder.work_item.not_before", *row.NotBefore, payload, key); err != nil {
				return err
			}
		}
		if row.NotAfter != nil {
			key := fmt.Sprintf("%s:nudge.work_item.not_after:%s", row.ID, row.NotAfter.UTC().Format(time.RFC3339))
			payload, _ := json.Marshal(map[string]any{"work_item_id": row.ID, "not_after": row.NotAfter})
			if _, err := jobs.Enqueue(ctx, db, "nudge.work_item.not_after", *row.NotAfter, payload, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// DigestSweep enqueues a single digest.daily job once per calendar day at
// config.DigestHour, idempotency-keyed by date so re-running the tick
// within the same hour never double-enqueues.
type DigestSweep struct {
	Hour int
}

func (d DigestSweep) Run(ctx context.Context, db *sqlx.DB, jobs *jobqueue.Store, now time.Time) error {
	if now.Hour() != d.Hour {
		return nil
	}
	key := "digest.daily:" + now.Format("2006-01-02")
	_, err := jobs.Enqueue(ctx, db, "digest.daily", now, []byte(`{}`), key)
	return err
}

// APIRefreshSweep enqueues api.refresh for every onboarded API source whose
// cadence has elapsed since last_fetched_at.
type APIRefreshSweep struct{}

type apiSourceDue struct {
	ID      string `db:"id"`
	Cadence string `db:"cadence"`
}

func (APIRefreshSweep) Run(ctx context.Context, db *sqlx.DB, jobs *jobqueue.Store, now time.Time) error {
	var rows []apiSourceDue
	const query = `
		SELECT id, cadence FROM api_sources
		WHERE last_fetched_at IS NULL OR last_fetched_at + cadence::interval <= $1`
	if err := db.SelectContext(ctx, &rows, query, now); err != nil {
		return errs.NewStorageError("scan due api sources", err)
	}

	for _, row := range rows {
		key := fmt.Sprintf("api.refresh:%s:%s", row.ID, now.Format("2006-01-02T15"))
		payload, _ := json.Marshal(map[string]any{"api_source_id": row.ID})
		if _, err := jobs.Enqueue(ctx, db, "api.refresh", now, payload, key); err != nil {
			return err
		}
	}
	return nil
}
