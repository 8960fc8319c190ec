package jobqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentbackend/pkg/errs"
	"github.com/codeready-toolchain/agentbackend/pkg/models"
)

type fakeWorkItemLoader struct {
	items map[string]*models.WorkItem
}

func (f *fakeWorkItemLoader) Get(_ context.Context, id string) (*models.WorkItem, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return item, nil
}

type fakeOutbox struct {
	enqueued []struct {
		kind, destination, idempotencyKey string
		body                              []byte
	}
}

func (f *fakeOutbox) Enqueue(_ context.Context, kind, destination string, body []byte, idempotencyKey string) (string, error) {
	f.enqueued = append(f.enqueued, struct {
		kind, destination, idempotencyKey string
		body                              []byte
	}{kind, destination, idempotencyKey, body})
	return "fake-id", nil
}

func jobFor(t *testing.T, kind string, payload any) *Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &Job{ID: "job-1", Kind: kind, Payload: raw, RunAt: time.Now(), Attempts: 0}
}

func TestReminderNotBefore_EnqueuesForOpenItem(t *testing.T) {
	loader := &fakeWorkItemLoader{items: map[string]*models.WorkItem{
		"wi-1": {ID: "wi-1", Title: "Call dentist", Status: models.WorkItemStatusOpen},
	}}
	outbox := &fakeOutbox{}
	h := &Handlers{WorkItems: loader, Outbox: outbox}

	job := jobFor(t, "reminder.work_item.not_before", map[string]any{"work_item_id": "wi-1"})
	outcome, err := h.ReminderNotBefore(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	require.Len(t, outbox.enqueued, 1)
	assert.Equal(t, "/hooks/agent", outbox.enqueued[0].destination)
}

func TestReminderNotBefore_SkipsWhenDone(t *testing.T) {
	loader := &fakeWorkItemLoader{items: map[string]*models.WorkItem{
		"wi-1": {ID: "wi-1", Status: models.WorkItemStatusDone},
	}}
	outbox := &fakeOutbox{}
	h := &Handlers{WorkItems: loader, Outbox: outbox}

	job := jobFor(t, "reminder.work_item.not_before", map[string]any{"work_item_id": "wi-1"})
	outcome, err := h.ReminderNotBefore(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkip, outcome)
	assert.Empty(t, outbox.enqueued)
}

func TestReminderNotBefore_SkipsWhenMissing(t *testing.T) {
	loader := &fakeWorkItemLoader{items: map[string]*models.WorkItem{}}
	outbox := &fakeOutbox{}
	h := &Handlers{WorkItems: loader, Outbox: outbox}

	job := jobFor(t, "reminder.work_item.not_before", map[string]any{"work_item_id": "missing"})
	outcome, err := h.ReminderNotBefore(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkip, outcome)
}

func TestNudgeNotAfter_TargetsWakeHook(t *testing.T) {
	loader := &fakeWorkItemLoader{items: map[string]*models.WorkItem{
		"wi-1": {ID: "wi-1", Status: models.WorkItemStatusInProgress},
	}}
	outbox := &fakeOutbox{}
	h := &Handlers{WorkItems: loader, Outbox: outbox}

	job := jobFor(t, "nudge.work_item.not_after", map[string]any{"work_item_id": "wi-1"})
	outcome, err := h.NudgeNotAfter(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	require.Len(t, outbox.enqueued, 1)
	assert.Equal(t, "/hooks/wake", outbox.enqueued[0].destination)
}

type fakeAPISources struct {
	result RefreshResult
	err    error
}

func (f *fakeAPISources) Refresh(_ context.Context, _ string) (RefreshResult, error) {
	return f.result, f.err
}

func TestAPIRefresh_EnqueuesDiff(t *testing.T) {
	outbox := &fakeOutbox{}
	h := &Handlers{Outbox: outbox, APISources: &fakeAPISources{result: RefreshResult{Created: 1, Updated: 2}}}

	job := jobFor(t, "api.refresh", map[string]any{"api_source_id": "src-1"})
	outcome, err := h.APIRefresh(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	require.Len(t, outbox.enqueued, 1)
}

func TestDigestDaily_SkipsWhenNoSourceConfigured(t *testing.T) {
	h := &Handlers{}
	job := jobFor(t, "digest.daily", map[string]any{})
	outcome, err := h.DigestDaily(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkip, outcome)
}

type fakeDigests struct {
	recipients []DigestRecipient
}

func (f *fakeDigests) UnreadDigest(_ context.Context, _ time.Time) ([]DigestRecipient, error) {
	return f.recipients, nil
}

func TestDigestDaily_EnqueuesOneRowPerRecipient(t *testing.T) {
	outbox := &fakeOutbox{}
	h := &Handlers{
		Outbox: outbox,
		Digests: &fakeDigests{recipients: []DigestRecipient{
			{Recipient: "a@example.com", UnreadCount: 3},
			{Recipient: "b@example.com", UnreadCount: 1},
		}},
	}

	job := jobFor(t, "digest.daily", map[string]any{})
	outcome, err := h.DigestDaily(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Len(t, outbox.enqueued, 2)
}
