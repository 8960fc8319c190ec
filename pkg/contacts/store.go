// Package contacts implements minimal contact + multi-channel endpoint
// records. A Contact's quiet-hours window and timezone are what the
// quiet-hours check (pkg/guard) reads; endpoints resolve a channel
// name ("slack", "sms", "email", "in_app", ...) to a delivery address.
// Inbound channel adapters are out of scope — only the records are
// modeled here.
package contacts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/agentbackend/pkg/errs"
	"github.com/codeready-toolchain/agentbackend/pkg/models"
)

var (
	errNameRequired               = errors.New("required")
	errEmailRequired              = errors.New("required")
	errChannelAndAddressRequired  = errors.New("channel and address are both required")
	errQuietHoursBothOrNeither    = errors.New("start and end must both be set or both be empty")
	errQuietHoursRange            = errors.New("must be between 0 and 1439 minutes")
)

// Store is the Postgres-backed contact repository.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db as a Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// CreateInput describes a new contact.
type CreateInput struct {
	Name            string
	Email           string
	QuietHoursStart *int
	QuietHoursEnd   *int
	Timezone        string
}

// Create inserts a contact.
func (s *Store) Create(ctx context.Context, in CreateInput) (*models.Contact, error) {
	if in.Name == "" {
		return nil, errs.NewValidationError("name", errNameRequired)
	}
	if in.Email == "" {
		return nil, errs.NewValidationError("email", errEmailRequired)
	}
	if err := validateQuietHours(in.QuietHoursStart, in.QuietHoursEnd); err != nil {
		return nil, err
	}

	contact := &models.Contact{
		ID:              uuid.NewString(),
		Name:            in.Name,
		Email:           in.Email,
		QuietHoursStart: in.QuietHoursStart,
		QuietHoursEnd:   in.QuietHoursEnd,
		Timezone:        in.Timezone,
	}

	const query = `
		INSERT INTO contacts (id, name, email, quiet_hours_start, quiet_hours_end, timezone)
		VALUES (:id, :name, :email, :quiet_hours_start, :quiet_hours_end, :timezone)
		RETURNING created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, query, contact)
	if err != nil {
		return nil, errs.NewStorageError("insert contact", err)
	}
	defer func() { _ = rows.Close() }()
	if rows.Next() {
		if err := rows.Scan(&contact.CreatedAt, &contact.UpdatedAt); err != nil {
			return nil, errs.NewStorageError("scan inserted contact", err)
		}
	}
	return contact, nil
}

// UpdateInput carries the mutable fields of an update; nil pointers leave
// the corresponding column unchanged.
type UpdateInput struct {
	Name                   *string
	QuietHoursStart        *int
	QuietHoursStartTouched bool
	QuietHoursEnd          *int
	QuietHoursEndTouched   bool
	Timezone               *string
}

// Update applies in to the contact identified by id.
func (s *Store) Update(ctx context.Context, id string, in UpdateInput) (*models.Contact, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		existing.Name = *in.Name
	}
	if in.QuietHoursStartTouched {
		existing.QuietHoursStart = in.QuietHoursStart
	}
	if in.QuietHoursEndTouched {
		existing.QuietHoursEnd = in.QuietHoursEnd
	}
	if in.Timezone != nil {
		existing.Timezone = *in.Timezone
	}
	if err := validateQuietHours(existing.QuietHoursStart, existing.QuietHoursEnd); err != nil {
		return nil, err
	}

	const query = `
		UPDATE contacts
		SET name = :name, quiet_hours_start = :quiet_hours_start,
		    quiet_hours_end = :quiet_hours_end, timezone = :timezone, updated_at = now()
		WHERE id = :id
		RETURNING updated_at`

	rows, err := s.db.NamedQueryContext(ctx, query, existing)
	if err != nil {
		return nil, errs.NewStorageError("update contact", err)
	}
	defer func() { _ = rows.Close() }()
	if rows.Next() {
		if err := rows.Scan(&existing.UpdatedAt); err != nil {
			return nil, errs.NewStorageError("scan updated contact", err)
		}
	}
	return existing, nil
}

// Get loads a single contact by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Contact, error) {
	var c models.Contact
	if err := s.db.GetContext(ctx, &c, `SELECT * FROM contacts WHERE id = $1`, id); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, errs.ErrNotFound
		}
		return nil, errs.NewStorageError("get contact", err)
	}
	return &c, nil
}

// GetByEmail loads a single contact by its unique email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.Contact, error) {
	var c models.Contact
	if err := s.db.GetContext(ctx, &c, `SELECT * FROM contacts WHERE email = $1`, email); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, errs.ErrNotFound
		}
		return nil, errs.NewStorageError("get contact by email", err)
	}
	return &c, nil
}

// Delete removes a contact and its endpoints (ON DELETE CASCADE).
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return errs.NewStorageError("delete contact", err)
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

// AddEndpoint attaches a new delivery channel to a contact.
func (s *Store) AddEndpoint(ctx context.Context, contactID, channel, address string) (*models.ContactEndpoint, error) {
	if channel == "" || address == "" {
		return nil, errs.NewValidationError("endpoint", errChannelAndAddressRequired)
	}
	ep := &models.ContactEndpoint{
		ID:        uuid.NewString(),
		ContactID: contactID,
		Channel:   channel,
		Address:   address,
		Enabled:   true,
	}

	const query = `
		INSERT INTO contact_endpoints (id, contact_id, channel, address, enabled)
		VALUES (:id, :contact_id, :channel, :address, :enabled)
		RETURNING created_at`

	rows, err := s.db.NamedQueryContext(ctx, query, ep)
	if err != nil {
		return nil, errs.NewStorageError("insert contact endpoint", err)
	}
	defer func() { _ = rows.Close() }()
	if rows.Next() {
		if err := rows.Scan(&ep.CreatedAt); err != nil {
			return nil, errs.NewStorageError("scan inserted contact endpoint", err)
		}
	}
	return ep, nil
}

// ListEndpoints returns every endpoint registered for contactID.
func (s *Store) ListEndpoints(ctx context.Context, contactID string) ([]*models.ContactEndpoint, error) {
	var endpoints []*models.ContactEndpoint
	err := s.db.SelectContext(ctx, &endpoints,
		`SELECT * FROM contact_endpoints WHERE contact_id = $1 ORDER BY created_at ASC`, contactID)
	if err != nil {
		return nil, errs.NewStorageError("list contact endpoints", err)
	}
	return endpoints, nil
}

// ResolveEndpoint returns the enabled endpoint address for (contactID,
// channel), turning a recipient + channel pair into a concrete delivery
// address.
func (s *Store) ResolveEndpoint(ctx context.Context, contactID, channel string) (string, error) {
	var address string
	err := s.db.GetContext(ctx, &address,
		`SELECT address FROM contact_endpoints WHERE contact_id = $1 AND channel = $2 AND enabled = true LIMIT 1`,
		contactID, channel)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return "", errs.ErrNotFound
		}
		return "", errs.NewStorageError("resolve contact endpoint", err)
	}
	return address, nil
}

// RemoveEndpoint deletes a single endpoint by id.
func (s *Store) RemoveEndpoint(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contact_endpoints WHERE id = $1`, id)
	if err != nil {
		return errs.NewStorageError("delete contact endpoint", err)
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

func validateQuietHours(start, end *int) error {
	if (start == nil) != (end == nil) {
		return errs.NewValidationError("quiet_hours", errQuietHoursBothOrNeither)
	}
	if start == nil {
		return nil
	}
	if *start < 0 || *start > 1439 || *end < 0 || *end > 1439 {
		return errs.NewValidationError("quiet_hours", errQuietHoursRange)
	}
	return nil
}
