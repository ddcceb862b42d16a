package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event is one row of the append-only conversation log.
type Event struct {
	ID        int64           `json:"id" db:"id"`
	EmailID   *int64          `json:"email_id,omitempty" db:"email_id"`
	Timestamp time.Time       `json:"ts" db:"ts"`
	Level     string          `json:"level" db:"level"`
	Event     string          `json:"event" db:"event"`
	Payload   json.RawMessage `json:"payload,omitempty" db:"payload"`
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// EventsRepo handles database operations for audit events
type EventsRepo struct {
	db *sql.DB
}

// NewEventsRepo creates a new events repository
func NewEventsRepo(db *sql.DB) *EventsRepo {
	return &EventsRepo{db: db}
}

// Insert appends an event and sets its ID.
func (r *EventsRepo) Insert(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var payload any
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO logs (email_id, ts, level, event, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, event.EmailID, event.Timestamp, event.Level, event.Event, payload).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert %s event: %w", event.Event, err)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// ListRecent returns the newest events first.
func (r *EventsRepo) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	return r.query(ctx, `
		SELECT id, email_id, ts, level, event, payload
		FROM logs
		ORDER BY ts DESC, id DESC
		LIMIT $1
	`, clampLimit(limit))
}

// ListByEmail returns one conversation's events in the order they happened.
func (r *EventsRepo) ListByEmail(ctx context.Context, emailID int64, limit int) ([]*Event, error) {
	return r.query(ctx, `
		SELECT id, email_id, ts, level, event, payload
		FROM logs
		WHERE email_id = $1
		ORDER BY ts ASC, id ASC
		LIMIT $2
	`, emailID, clampLimit(limit))
}

func (r *EventsRepo) query(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	events := make([]*Event, 0)
	for rows.Next() {
		var (
			e       Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.EmailID, &e.Timestamp, &e.Level, &e.Event, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
