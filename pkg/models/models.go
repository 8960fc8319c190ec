// Package models contains the persistent entity types shared across the
// work-item hierarchy, job pipeline, webhook outbox, and hybrid search.
package models

import "time"

// WorkItemKind enumerates the work-item hierarchy levels.
type WorkItemKind string

// Work item kinds, from coarsest to finest grain.
const (
	WorkItemKindProject    WorkItemKind = "project"
	WorkItemKindInitiative WorkItemKind = "initiative"
	WorkItemKindEpic       WorkItemKind = "epic"
	WorkItemKindIssue      WorkItemKind = "issue"
	WorkItemKindTask       WorkItemKind = "task"
)

// WorkItemStatus enumerates the lifecycle states of a WorkItem.
type WorkItemStatus string

// Work item statuses.
const (
	WorkItemStatusBacklog    WorkItemStatus = "backlog"
	WorkItemStatusOpen       WorkItemStatus = "open"
	WorkItemStatusInProgress WorkItemStatus = "in_progress"
	WorkItemStatusDone       WorkItemStatus = "done"
	WorkItemStatusCancelled  WorkItemStatus = "cancelled"
)

// WorkItem is a hierarchical unit of work: project, initiative, epic, issue,
// or task. Parent/kind pairing and acyclicity are enforced by pkg/workitems,
// not by the database schema.
type WorkItem struct {
	ID        string         `db:"id" json:"id"`
	Title     string         `db:"title" json:"title"`
	Kind      WorkItemKind   `db:"kind" json:"kind"`
	ParentID  *string        `db:"parent_id" json:"parent_id,omitempty"`
	Status    WorkItemStatus `db:"status" json:"status"`
	NotBefore *time.Time     `db:"not_before" json:"not_before,omitempty"`
	NotAfter  *time.Time     `db:"not_after" json:"not_after,omitempty"`
	SortOrder int            `db:"sort_order" json:"sort_order"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time     `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Job is a persisted row in the job queue.
type Job struct {
	ID          string     `db:"id" json:"id"`
	Kind        string     `db:"kind" json:"kind"`
	Payload     []byte     `db:"payload" json:"payload"`
	RunAt       time.Time  `db:"run_at" json:"run_at"`
	Attempts    int        `db:"attempts" json:"attempts"`
	LockedBy    *string    `db:"locked_by" json:"locked_by,omitempty"`
	LockedUntil *time.Time `db:"locked_until" json:"locked_until,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	LastError   *string    `db:"last_error" json:"last_error,omitempty"`

	// IdempotencyKey collapses duplicate enqueues of the same kind while a
	// row with that key is still pending. Empty string means "no dedup".
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Claimable reports whether the job is eligible for a worker to claim it at
// instant now, mirroring the job store's claim predicate.
func (j *Job) Claimable(now time.Time) bool {
	if j.CompletedAt != nil {
		return false
	}
	if j.RunAt.After(now) {
		return false
	}
	if j.LockedBy == nil {
		return true
	}
	return j.LockedUntil != nil && j.LockedUntil.Before(now)
}

// OutboxMessage is a durable, at-least-once webhook delivery record.
type OutboxMessage struct {
	ID             string     `db:"id" json:"id"`
	Kind           string     `db:"kind" json:"kind"`
	Destination    string     `db:"destination" json:"destination"`
	Body           []byte     `db:"body" json:"body"`
	Attempts       int        `db:"attempts" json:"attempts"`
	NextAttemptAt  time.Time  `db:"next_attempt_at" json:"next_attempt_at"`
	DeliveredAt    *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	DeadLetter     bool       `db:"dead_letter" json:"dead_letter"`
	LastStatus     *int       `db:"last_status" json:"last_status,omitempty"`
	LastError      *string    `db:"last_error" json:"last_error,omitempty"`
	IdempotencyKey string     `db:"idempotency_key" json:"idempotency_key"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// MemoryType enumerates the semantic category of a Memory row.
type MemoryType string

// Memory types.
const (
	MemoryTypePreference  MemoryType = "preference"
	MemoryTypeFact        MemoryType = "fact"
	MemoryTypeDecision    MemoryType = "decision"
	MemoryTypeContext     MemoryType = "context"
	MemoryTypeNoteContext MemoryType = "note-context"
)

// EmbeddingStatus tracks whether a row's embedding vector is current.
type EmbeddingStatus string

// Embedding statuses.
const (
	EmbeddingStatusPending  EmbeddingStatus = "pending"
	EmbeddingStatusComplete EmbeddingStatus = "complete"
	EmbeddingStatusFailed   EmbeddingStatus = "failed"
	EmbeddingStatusSkipped  EmbeddingStatus = "skipped"
)

// Memory is a piece of agent context, searchable by hybrid text+vector
// scoring. Title/content changes flip EmbeddingStatus back to pending and
// clear Embedding — done by the writing code (pkg/apisource's refresh), not
// by the schema.
type Memory struct {
	ID              string          `db:"id" json:"id"`
	Namespace       string          `db:"namespace" json:"namespace"`
	MemoryType      MemoryType      `db:"memory_type" json:"memory_type"`
	Title           string          `db:"title" json:"title"`
	Content         string          `db:"content" json:"content"`
	Embedding       []float32       `db:"embedding" json:"embedding,omitempty"`
	EmbeddingStatus EmbeddingStatus `db:"embedding_status" json:"embedding_status"`
	Tags            []string        `db:"tags" json:"tags,omitempty"`
	Importance      int             `db:"importance" json:"importance"`
	UserEmail       string          `db:"user_email" json:"user_email"`
	WorkItemID      *string         `db:"work_item_id" json:"work_item_id,omitempty"`
	ContactID       *string         `db:"contact_id" json:"contact_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// NoteVisibility enumerates who besides the owner may read a Note.
type NoteVisibility string

// Note visibilities.
const (
	NoteVisibilityPrivate NoteVisibility = "private"
	NoteVisibilityShared  NoteVisibility = "shared"
	NoteVisibilityPublic  NoteVisibility = "public"
)

// Note is near-identical to Memory for search purposes, with its own
// visibility and agent-exposure controls. Embedding is skipped when
// Visibility is private and HideFromAgents is true; public notes are always
// embedded regardless of HideFromAgents.
type Note struct {
	ID              string          `db:"id" json:"id"`
	Namespace       string          `db:"namespace" json:"namespace"`
	Title           string          `db:"title" json:"title"`
	Content         string          `db:"content" json:"content"`
	Embedding       []float32       `db:"embedding" json:"embedding,omitempty"`
	EmbeddingStatus EmbeddingStatus `db:"embedding_status" json:"embedding_status"`
	Tags            []string        `db:"tags" json:"tags,omitempty"`
	Visibility      NoteVisibility  `db:"visibility" json:"visibility"`
	HideFromAgents  bool            `db:"hide_from_agents" json:"hide_from_agents"`
	UserEmail       string          `db:"user_email" json:"user_email"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// ShouldEmbed reports whether a Note with the given visibility/hide flags
// should have an embedding computed.
func ShouldEmbed(visibility NoteVisibility, hideFromAgents bool) bool {
	if visibility == NoteVisibilityPrivate && hideFromAgents {
		return false
	}
	return true
}

// NamespaceRole enumerates a grantee's role within a namespace.
type NamespaceRole string

// Namespace roles.
const (
	NamespaceRoleOwner  NamespaceRole = "owner"
	NamespaceRoleMember NamespaceRole = "member"
)

// NamespaceGrant authorizes email to access namespace with role.
type NamespaceGrant struct {
	Email     string        `db:"email" json:"email"`
	Namespace string        `db:"namespace" json:"namespace"`
	Role      NamespaceRole `db:"role" json:"role"`
	IsDefault bool          `db:"is_default" json:"is_default"`
}

// DedupEntry records that a notification with Key was already emitted;
// entries older than the dedup window are treated as expired.
type DedupEntry struct {
	Key       string    `db:"key" json:"key"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RateCounter counts emits to (Recipient, Channel) within the fixed window
// beginning at BucketStart.
type RateCounter struct {
	Recipient   string    `db:"recipient" json:"recipient"`
	Channel     string    `db:"channel" json:"channel"`
	BucketStart time.Time `db:"bucket_start" json:"bucket_start"`
	Count       int       `db:"count" json:"count"`
}

// NotificationUrgency enumerates how urgently a notification must reach its
// recipient; only "urgent" bypasses quiet hours.
type NotificationUrgency string

// Notification urgencies.
const (
	NotificationUrgencyNormal NotificationUrgency = "normal"
	NotificationUrgencyUrgent NotificationUrgency = "urgent"
)

// Contact is a person or system the service can notify, identified by a set
// of multi-channel endpoints.
type Contact struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Email       string     `db:"email" json:"email"`
	QuietHoursStart *int   `db:"quiet_hours_start" json:"quiet_hours_start,omitempty"` // minutes since midnight, local
	QuietHoursEnd   *int   `db:"quiet_hours_end" json:"quiet_hours_end,omitempty"`
	Timezone    string     `db:"timezone" json:"timezone,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// ContactEndpoint is one addressable channel for a Contact (slack, sms,
// email, push, in_app, ...).
type ContactEndpoint struct {
	ID        string    `db:"id" json:"id"`
	ContactID string    `db:"contact_id" json:"contact_id"`
	Channel   string    `db:"channel" json:"channel"`
	Address   string    `db:"address" json:"address"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// APISource is an onboarded external API whose spec document is periodically
// refetched by the api.refresh job.
type APISource struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	URL        string    `db:"url" json:"url"`
	BearerToken string   `db:"bearer_token" json:"-"`
	Cadence    string    `db:"cadence" json:"cadence"` // cron expression or duration string
	LastSpec   []byte    `db:"last_spec" json:"-"`
	LastFetchedAt *time.Time `db:"last_fetched_at" json:"last_fetched_at,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
