package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Status of an email row.
type Status string

const (
	StatusNew        Status = "new"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusEscalated  Status = "escalated"
)

// ErrNotFound is returned when no email row has the requested id.
var ErrNotFound = errors.New("email not found")

// Message is an inbound message as fetched from the mailbox.
type Message struct {
	UID       uint32 `json:"uid"`
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Email is a stored message and its processing state.
type Email struct {
	ID        int64     `json:"id" db:"id"`
	MessageID string    `json:"message_id" db:"msg_id"`
	From      string    `json:"from" db:"from_addr"`
	Subject   string    `json:"subject" db:"subject"`
	Body      string    `json:"body" db:"body"`
	Status    Status    `json:"status" db:"status"`
	Decision  *string   `json:"decision,omitempty" db:"decision"`
	Reason    *string   `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EmailsRepo handles database operations for emails
type EmailsRepo struct {
	db *sql.DB
}

// NewEmailsRepo creates a new emails repository
func NewEmailsRepo(db *sql.DB) *EmailsRepo {
	return &EmailsRepo{db: db}
}

// InsertIfAbsent stores msg unless a row with the same Message-ID exists.
// It returns the row id either way and whether a row was created.
func (r *EmailsRepo) InsertIfAbsent(ctx context.Context, msg Message) (int64, bool, error) {
	if msg.MessageID == "" {
		return 0, false, fmt.Errorf("message has no Message-ID")
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO emails (msg_id, from_addr, subject, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (msg_id) DO NOTHING
		RETURNING id
	`, msg.MessageID, msg.From, msg.Subject, msg.Body).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to insert email: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `SELECT id FROM emails WHERE msg_id = $1`, msg.MessageID).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up existing email: %w", err)
	}
	return id, false, nil
}

const emailColumns = `id, msg_id, from_addr, subject, body, status, decision, reason, created_at, updated_at`

func scanEmail(row interface{ Scan(...any) error }) (*Email, error) {
	e := &Email{}
	err := row.Scan(&e.ID, &e.MessageID, &e.From, &e.Subject, &e.Body, &e.Status,
		&e.Decision, &e.Reason, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// Get loads one email.
func (r *EmailsRepo) Get(ctx context.Context, id int64) (*Email, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = $1`, id)
	e, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load email %d: %w", id, err)
	}
	return e, nil
}

// MarkProcessing moves an email to processing.
func (r *EmailsRepo) MarkProcessing(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, StatusProcessing, nil, nil)
}

// RecordDecision stores the terminal decision. decision is "deliver" or "escalate".
func (r *EmailsRepo) RecordDecision(ctx context.Context, id int64, decision, reason string) error {
	status := StatusEscalated
	if decision == "deliver" {
		status = StatusDelivered
	}
	return r.setStatus(ctx, id, status, &decision, &reason)
}

func (r *EmailsRepo) setStatus(ctx context.Context, id int64, status Status, decision, reason *string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE emails
		SET status = $2,
		    decision = COALESCE($3, decision),
		    reason = COALESCE($4, reason),
		    updated_at = now()
		WHERE id = $1
	`, id, string(status), decision, reason)
	if err != nil {
		return fmt.Errorf("failed to update email %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// ListEscalations returns the most recently escalated emails first.
func (r *EmailsRepo) ListEscalations(ctx context.Context, limit int) ([]*Email, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+emailColumns+`
		FROM emails
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, string(StatusEscalated), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalations: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	emails := make([]*Email, 0)
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating emails: %w", err)
	}
	return emails, nil
}
