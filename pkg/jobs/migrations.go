package jobs

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY,
		subject_id BIGINT NOT NULL,
		operation TEXT NOT NULL,
		scope_type TEXT NOT NULL,
		scope_key TEXT NOT NULL,
		state TEXT NOT NULL,
		result_ref TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_subject ON jobs (subject_id)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_state_updated ON jobs (state, updated_at)`,
}

// Migrate applies the jobs schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply jobs migration: %w", err)
		}
	}
	return nil
}
