package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Migrations are applied in order. Each statement is idempotent.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS emails (
		id         BIGSERIAL PRIMARY KEY,
		msg_id     TEXT NOT NULL UNIQUE,
		from_addr  TEXT NOT NULL,
		subject    TEXT NOT NULL DEFAULT '',
		body       TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'new',
		decision   TEXT,
		reason     TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS emails_status_idx ON emails (status)`,
	`CREATE TABLE IF NOT EXISTS logs (
		id       BIGSERIAL PRIMARY KEY,
		email_id BIGINT REFERENCES emails (id) ON DELETE SET NULL,
		ts       TIMESTAMPTZ NOT NULL DEFAULT now(),
		level    TEXT NOT NULL,
		event    TEXT NOT NULL,
		payload  JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS logs_email_ts_idx ON logs (email_id, ts)`,
	`CREATE INDEX IF NOT EXISTS logs_ts_idx ON logs (ts DESC)`,
}

// Migrate applies the schema in a single transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, stmt := range Migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	log.Info().Int("statements", len(Migrations)).Msg("Database schema is up to date")
	return nil
}
