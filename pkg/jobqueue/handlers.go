package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/agentbackend/pkg/errs"
	"github.com/codeready-toolchain/agentbackend/pkg/models"
)

// WorkItemLoader is the subset of pkg/workitems used by reminder/nudge
// handlers. Declared locally to avoid a jobqueue→workitems import cycle
// (workitems enqueues jobs through this package).
type WorkItemLoader interface {
	Get(ctx context.Context, id string) (*models.WorkItem, error)
}

// OutboxEnqueuer is the subset of pkg/outbox used by every handler that
// notifies an agent gateway.
type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, kind, destination string, body []byte, idempotencyKey string) (string, error)
}

// RefreshResult summarizes an api.refresh handler run.
type RefreshResult struct {
	Created int
	Updated int
	Deleted int
}

// APISourceRefresher is the subset of pkg/apisource used by the api.refresh
// handler.
type APISourceRefresher interface {
	Refresh(ctx context.Context, apiSourceID string) (RefreshResult, error)
}

// DigestRecipient is one row of an aggregated daily digest.
type DigestRecipient struct {
	Recipient   string
	UnreadCount int
}

// DigestSource is the subset of the notification store used by digest.daily.
type DigestSource interface {
	UnreadDigest(ctx context.Context, since time.Time) ([]DigestRecipient, error)
}

// Handlers bundles the kind-specific job handlers and their dependencies.
type Handlers struct {
	WorkItems  WorkItemLoader
	Outbox     OutboxEnqueuer
	APISources APISourceRefresher
	Digests    DigestSource
}

// Register binds every handler in h to proc under its spec-defined kind.
func (h *Handlers) Register(proc *Processor) {
	proc.RegisterHandler("reminder.work_item.not_before", h.ReminderNotBefore)
	proc.RegisterHandler("nudge.work_item.not_after", h.NudgeNotAfter)
	proc.RegisterHandler("api.refresh", h.APIRefresh)
	proc.RegisterHandler("digest.daily", h.DigestDaily)
}

type workItemTimestampPayload struct {
	WorkItemID string    `json:"work_item_id"`
	NotBefore  time.Time `json:"not_before,omitempty"`
	NotAfter   time.Time `json:"not_after,omitempty"`
}

// ReminderNotBefore loads the work item; if it's missing or already
// done/cancelled the reminder is moot and the job is skipped silently.
// Otherwise it enqueues an outbox row targeting the agent gateway.
func (h *Handlers) ReminderNotBefore(ctx context.Context, job *Job) (Outcome, error) {
	var payload workItemTimestampPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return OutcomeRetry, fmt.Errorf("decode payload: %w", err)
	}

	item, err := h.WorkItems.Get(ctx, payload.WorkItemID)
	if errors.Is(err, errs.ErrNotFound) {
		return OutcomeSkip, nil
	}
	if err != nil {
		return OutcomeRetry, fmt.Errorf("load work item: %w", err)
	}
	if item.Status == models.WorkItemStatusDone || item.Status == models.WorkItemStatusCancelled {
		return OutcomeSkip, nil
	}

	body, err := json.Marshal(map[string]any{
		"kind": job.Kind,
		"context": map[string]any{
			"work_item_id": item.ID,
			"title":        item.Title,
			"not_before":   payload.NotBefore,
		},
		"occurred_at": time.Now().UTC(),
	})
	if err != nil {
		return OutcomeRetry, fmt.Errorf("encode outbox body: %w", err)
	}

	if _, err := h.Outbox.Enqueue(ctx, job.Kind, "/hooks/agent", body, outboxIdempotencyKey(job)); err != nil {
		return OutcomeRetry, fmt.Errorf("enqueue outbox row: %w", err)
	}
	return OutcomeOK, nil
}

// NudgeNotAfter is the not_after analogue of ReminderNotBefore, targeting
// /hooks/wake.
func (h *Handlers) NudgeNotAfter(ctx context.Context, job *Job) (Outcome, error) {
	var payload workItemTimestampPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return OutcomeRetry, fmt.Errorf("decode payload: %w", err)
	}

	item, err := h.WorkItems.Get(ctx, payload.WorkItemID)
	if errors.Is(err, errs.ErrNotFound) {
		return OutcomeSkip, nil
	}
	if err != nil {
		return OutcomeRetry, fmt.Errorf("load work item: %w", err)
	}
	if item.Status == models.WorkItemStatusDone || item.Status == models.WorkItemStatusCancelled {
		return OutcomeSkip, nil
	}

	body, err := json.Marshal(map[string]any{
		"kind": job.Kind,
		"context": map[string]any{
			"work_item_id": item.ID,
			"title":        item.Title,
			"not_after":    payload.NotAfter,
		},
		"occurred_at": time.Now().UTC(),
	})
	if err != nil {
		return OutcomeRetry, fmt.Errorf("encode outbox body: %w", err)
	}

	if _, err := h.Outbox.Enqueue(ctx, job.Kind, "/hooks/wake", body, outboxIdempotencyKey(job)); err != nil {
		return OutcomeRetry, fmt.Errorf("enqueue outbox row: %w", err)
	}
	return OutcomeOK, nil
}

type apiRefreshPayload struct {
	APISourceID string `json:"api_source_id"`
}

// APIRefresh re-fetches an external API spec and reports the diff.
func (h *Handlers) APIRefresh(ctx context.Context, job *Job) (Outcome, error) {
	var payload apiRefreshPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return OutcomeRetry, fmt.Errorf("decode payload: %w", err)
	}

	result, err := h.APISources.Refresh(ctx, payload.APISourceID)
	if errors.Is(err, errs.ErrNotFound) {
		return OutcomeSkip, nil
	}
	if err != nil {
		return OutcomeRetry, fmt.Errorf("refresh api source: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"kind": job.Kind,
		"context": map[string]any{
			"api_source_id": payload.APISourceID,
			"created":       result.Created,
			"updated":       result.Updated,
			"deleted":       result.Deleted,
		},
		"occurred_at": time.Now().UTC(),
	})
	if err != nil {
		return OutcomeRetry, fmt.Errorf("encode outbox body: %w", err)
	}

	if _, err := h.Outbox.Enqueue(ctx, job.Kind, "/hooks/agent", body, outboxIdempotencyKey(job)); err != nil {
		return OutcomeRetry, fmt.Errorf("enqueue outbox row: %w", err)
	}
	return OutcomeOK, nil
}

// DigestDaily aggregates the last 24h of unread notifications per recipient
// and enqueues one outbox row per recipient. A nil Digests dependency makes
// this a silent skip rather than a fatal error, since digests are optional.
func (h *Handlers) DigestDaily(ctx context.Context, job *Job) (Outcome, error) {
	if h.Digests == nil {
		return OutcomeSkip, nil
	}

	recipients, err := h.Digests.UnreadDigest(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return OutcomeRetry, fmt.Errorf("aggregate digest: %w", err)
	}

	for _, r := range recipients {
		body, err := json.Marshal(map[string]any{
			"kind": job.Kind,
			"context": map[string]any{
				"recipient":    r.Recipient,
				"unread_count": r.UnreadCount,
			},
			"occurred_at": time.Now().UTC(),
		})
		if err != nil {
			return OutcomeRetry, fmt.Errorf("encode outbox body: %w", err)
		}

		key := fmt.Sprintf("%s:%s:%s", job.Kind, r.Recipient, job.RunAt.Format("2006-01-02"))
		if _, err := h.Outbox.Enqueue(ctx, job.Kind, "/hooks/agent", body, key); err != nil {
			return OutcomeRetry, fmt.Errorf("enqueue digest row for %s: %w", r.Recipient, err)
		}
	}
	return OutcomeOK, nil
}

// outboxIdempotencyKey derives a stable per-attempt idempotency key from
// (kind, job_id, attempts), so a handler whose side effects run twice after
// a lock expiry still produces one outbox row per attempt, not a duplicate.
func outboxIdempotencyKey(job *Job) string {
	return fmt.Sprintf("%s:%s:%d", job.Kind, job.ID, job.Attempts)
}
