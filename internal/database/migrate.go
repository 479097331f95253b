package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		name          TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_by    TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		expires_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS rooms_expires_at_idx ON rooms (expires_at)`,
	`CREATE TABLE IF NOT EXISTS session_events (
		id          BIGSERIAL PRIMARY KEY,
		kind        TEXT NOT NULL,
		session_id  TEXT,
		room_name   TEXT,
		client_ids  TEXT[] NOT NULL DEFAULT '{}',
		reason      TEXT,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS session_events_occurred_at_idx ON session_events (occurred_at)`,
}

// Migrate creates the tables this service owns. It is safe to run repeatedly.
func Migrate(ctx context.Context) error {
	return inTx(ctx, func(tx pgx.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration step %d: %w", i, err)
			}
		}
		return nil
	})
}
