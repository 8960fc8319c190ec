// Package workitems implements the hierarchical work-item CRUD surface and
// the write-time half of the scheduler: every create/update that touches
// not_before/not_after upserts or cancels the matching reminder/nudge job in
// the same database transaction as the mutation.
package workitems

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/agentbackend/pkg/errs"
	"github.com/codeready-toolchain/agentbackend/pkg/jobqueue"
	"github.com/codeready-toolchain/agentbackend/pkg/models"
)

const (
	kindReminderNotBefore = "reminder.work_item.not_before"
	kindNudgeNotAfter     = "nudge.work_item.not_after"
)

// JobEnqueuer is the subset of pkg/jobqueue.Store the write path needs,
// scoped to a single transaction via the Queryer parameter.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, q jobqueue.Queryer, kind string, runAt time.Time, payload []byte, idempotencyKey string) (string, error)
	CancelPending(ctx context.Context, q jobqueue.Queryer, kind, workItemID, exceptKey string) error
}

// Store is the Postgres-backed work-item repository.
type Store struct {
	db  *sqlx.DB
	jobs JobEnqueuer
}

// NewStore wraps db and jobs as a Store.
func NewStore(db *sqlx.DB, jobs JobEnqueuer) *Store {
	return &Store{db: db, jobs: jobs}
}

// CreateInput describes a new work item.
type CreateInput struct {
	Title     string
	Kind      models.WorkItemKind
	ParentID  *string
	Status    models.WorkItemStatus
	NotBefore *time.Time
	NotAfter  *time.Time
	SortOrder int
}

// Create validates the hierarchy invariants, inserts the row, and — within
// the same transaction — upserts any reminder/nudge jobs implied by
// NotBefore/NotAfter. If the enqueue fails, the whole mutation fails.
func (s *Store) Create(ctx context.Context, in CreateInput) (*models.WorkItem, error) {
	if in.Title == "" {
		return nil, errs.NewValidationError("title", fmt.Errorf("required"))
	}
	if in.Status == "" {
		in.Status = models.WorkItemStatusBacklog
	}
	if err := validateTimestamps(in.NotBefore, in.NotAfter); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errs.NewStorageError("begin create tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if in.ParentID != nil {
		parent, err := s.getTx(ctx, tx, *in.ParentID)
		if err != nil {
			return nil, err
		}
		if err := validateParentKind(in.Kind, parent.Kind); err != nil {
			return nil, err
		}
	} else if err := validateParentKind(in.Kind, ""); err != nil {
		return nil, err
	}

	item := &models.WorkItem{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Kind:      in.Kind,
		ParentID:  in.ParentID,
		Status:    in.Status,
		NotBefore: in.NotBefore,
		NotAfter:  in.NotAfter,
		SortOrder: in.SortOrder,
	}

	const query = `
		INSERT INTO work_items (id, title, kind, parent_id, status, not_before, not_after, sort_order)
		VALUES (:id, :title, :kind, :parent_id, :status, :not_before, :not_after, :sort_order)
		RETURNING created_at, updated_at`

	rows, err := tx.NamedQuery(query, item)
	if err != nil {
		return nil, errs.NewStorageError("insert work item", err)
	}
	if rows.Next() {
		if err := rows.Scan(&item.CreatedAt, &item.UpdatedAt); err != nil {
			_ = rows.Close()
			return nil, errs.NewStorageError("scan inserted work item", err)
		}
	}
	_ = rows.Close()

	if err := s.syncJobs(ctx, tx, item, nil, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.NewStorageError("commit create", err)
	}
	return item, nil
}

// UpdateInput carries the mutable fields of an update; nil pointers leave
// the corresponding column unchanged except NotBefore/NotAfter, which use
// a separate "touched" flag so callers can explicitly clear a timestamp.
type UpdateInput struct {
	Title           *string
	Status          *models.WorkItemStatus
	SortOrder       *int
	NotBefore        *time.Time
	NotBeforeTouched bool
	NotAfter         *time.Time
	NotAfterTouched  bool
	ParentID         *string
	ParentIDTouched  bool
}

// Update applies in to the work item identified by id, re-validates
// not_before ≤ not_after and the parent/kind/cycle invariants, and — in the
// same transaction — upserts or cancels the reminder/nudge jobs implied by
// the new timestamps.
func (s *Store) Update(ctx context.Context, id string, in UpdateInput) (*models.WorkItem, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errs.NewStorageError("begin update tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := s.getTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	before := *existing

	if in.Title != nil {
		existing.Title = *in.Title
	}
	if in.Status != nil {
		existing.Status = *in.Status
	}
	if in.SortOrder != nil {
		existing.SortOrder = *in.SortOrder
	}
	if in.NotBeforeTouched {
		existing.NotBefore = in.NotBefore
	}
	if in.NotAfterTouched {
		existing.NotAfter = in.NotAfter
	}
	if in.ParentIDTouched {
		if in.ParentID != nil {
			if *in.ParentID == id {
				return nil, errs.NewConstraintError("work_item", "cannot be its own parent", nil)
			}
			if err := s.assertAcyclic(ctx, tx, id, *in.ParentID); err != nil {
				return nil, err
			}
			parent, err := s.getTx(ctx, tx, *in.ParentID)
			if err != nil {
				return nil, err
			}
			if err := validateParentKind(existing.Kind, parent.Kind); err != nil {
				return nil, err
			}
		} else if err := validateParentKind(existing.Kind, ""); err != nil {
			return nil, err
		}
		existing.ParentID = in.ParentID
	}

	if err := validateTimestamps(existing.NotBefore, existing.NotAfter); err != nil {
		return nil, err
	}

	const query = `
		UPDATE work_items
		SET title = :title, status = :status, sort_order = :sort_order,
		    parent_id = :parent_id,
		    not_before = :not_before, not_after = :not_after, updated_at = now()
		WHERE id = :id
		RETURNING updated_at`

	rows, err := tx.NamedQuery(query, existing)
	if err != nil {
		return nil, errs.NewStorageError("update work item", err)
	}
	if rows.Next() {
		if err := rows.Scan(&existing.UpdatedAt); err != nil {
			_ = rows.Close()
			return nil, errs.NewStorageError("scan updated work item", err)
		}
	}
	_ = rows.Close()

	if err := s.syncJobs(ctx, tx, existing, before.NotBefore, before.NotAfter); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.NewStorageError("commit update", err)
	}
	return existing, nil
}

// Get loads a single work item by id.
func (s *Store) Get(ctx context.Context, id string) (*models.WorkItem, error) {
	var item models.WorkItem
	err := s.db.GetContext(ctx, &item, `SELECT * FROM work_items WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, errs.ErrNotFound
		}
		return nil, errs.NewStorageError("get work item", err)
	}
	return &item, nil
}

func (s *Store) getTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.WorkItem, error) {
	var item models.WorkItem
	err := tx.GetContext(ctx, &item, `SELECT * FROM work_items WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, errs.ErrNotFound
		}
		return nil, errs.NewStorageError("get work item for update", err)
	}
	return &item, nil
}

// SoftDelete stamps deleted_at without removing the row.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE work_items SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return errs.NewStorageError("soft delete work item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.NewStorageError("rows affected", err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListChildren returns the direct children of parentID ordered by sort_order.
func (s *Store) ListChildren(ctx context.Context, parentID string) ([]*models.WorkItem, error) {
	var items []*models.WorkItem
	err := s.db.SelectContext(ctx, &items,
		`SELECT * FROM work_items WHERE parent_id = $1 AND deleted_at IS NULL ORDER BY sort_order ASC`, parentID)
	if err != nil {
		return nil, errs.NewStorageError("list children", err)
	}
	return items, nil
}

// assertAcyclic walks newParentID's ancestor chain and fails if id appears
// in it, which would otherwise create a cycle once the reparent commits.
func (s *Store) assertAcyclic(ctx context.Context, tx *sqlx.Tx, id, newParentID string) error {
	cursor := newParentID
	for i := 0; i < 64; i++ { // bounded: a real hierarchy is never this deep
		if cursor == id {
			return errs.NewConstraintError("work_item", "reparenting would create a cycle", nil)
		}
		var parentID *string
		err := tx.GetContext(ctx, &parentID, `SELECT parent_id FROM work_items WHERE id = $1 AND deleted_at IS NULL`, cursor)
		if err != nil {
			if err.Error() == "sql: no rows in result set" {
				return errs.ErrNotFound
			}
			return errs.NewStorageError("walk ancestor chain", err)
		}
		if parentID == nil {
			return nil
		}
		cursor = *parentID
	}
	return errs.NewConstraintError("work_item", "ancestor chain exceeds maximum depth", nil)
}

// validateParentKind enforces the allowed kind/parent pairing for the work
// item hierarchy (project > initiative > epic > issue > task).
func validateParentKind(kind models.WorkItemKind, parentKind models.WorkItemKind) error {
	switch kind {
	case models.WorkItemKindProject:
		if parentKind != "" {
			return errs.NewConstraintError("work_item", "project must not have a parent", nil)
		}
	case models.WorkItemKindInitiative:
		if parentKind != "" && parentKind != models.WorkItemKindProject {
			return errs.NewConstraintError("work_item", "initiative's parent must be a project", nil)
		}
	case models.WorkItemKindEpic:
		if parentKind != models.WorkItemKindInitiative {
			return errs.NewConstraintError("work_item", "epic must have an initiative parent", nil)
		}
	case models.WorkItemKindIssue:
		if parentKind != models.WorkItemKindEpic {
			return errs.NewConstraintError("work_item", "issue must have an epic parent", nil)
		}
	case models.WorkItemKindTask:
		// tasks accept any parent, including none
	default:
		return errs.NewValidationError("kind", fmt.Errorf("unknown kind %q", kind))
	}
	return nil
}

func validateTimestamps(notBefore, notAfter *time.Time) error {
	if notBefore != nil && notAfter != nil && notBefore.After(*notAfter) {
		return errs.NewValidationError("not_before", fmt.Errorf("must be <= not_after"))
	}
	return nil
}

// syncJobs upserts a reminder/nudge job when a future timestamp is present,
// and cancels the prior pending job when the timestamp was removed or moved.
func (s *Store) syncJobs(ctx context.Context, tx *sqlx.Tx, item *models.WorkItem, prevNotBefore, prevNotAfter *time.Time) error {
	if err := s.syncOneJob(ctx, tx, kindReminderNotBefore, item.ID, item.NotBefore, prevNotBefore, func(t time.Time) ([]byte, error) {
		return json.Marshal(map[string]any{"work_item_id": item.ID, "not_before": t})
	}); err != nil {
		return err
	}
	return s.syncOneJob(ctx, tx, kindNudgeNotAfter, item.ID, item.NotAfter, prevNotAfter, func(t time.Time) ([]byte, error) {
		return json.Marshal(map[string]any{"work_item_id": item.ID, "not_after": t})
	})
}

func (s *Store) syncOneJob(ctx context.Context, tx *sqlx.Tx, kind, workItemID string, current, previous *time.Time, payloadFor func(time.Time) ([]byte, error)) error {
	now := time.Now()

	var currentKey string
	if current != nil && current.After(now) {
		currentKey = fmt.Sprintf("%s:%s:%s", workItemID, kind, current.UTC().Format(time.RFC3339))
		payload, err := payloadFor(*current)
		if err != nil {
			return errs.NewStorageError("encode job payload", err)
		}
		if _, err := s.jobs.Enqueue(ctx, tx, kind, *current, payload, currentKey); err != nil {
			return err
		}
	}

	// Cancel whatever was pending under the old key, if the timestamp moved,
	// was removed, or moved into the past.
	changed := (previous == nil) != (current == nil)
	if previous != nil && current != nil && !previous.Equal(*current) {
		changed = true
	}
	if changed || (current == nil && previous != nil) {
		if err := s.jobs.CancelPending(ctx, tx, kind, workItemID, currentKey); err != nil {
			return err
		}
	}
	return nil
}
