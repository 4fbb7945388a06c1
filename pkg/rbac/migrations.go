package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS access_grants (
		id BIGSERIAL PRIMARY KEY,
		subject_id BIGINT NOT NULL,
		role TEXT NOT NULL,
		scope_type TEXT NOT NULL,
		scope_key TEXT NOT NULL DEFAULT '',
		granted_at TIMESTAMPTZ NOT NULL,
		UNIQUE (subject_id, role, scope_type, scope_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_access_grants_subject
		ON access_grants(subject_id)`,
	`CREATE INDEX IF NOT EXISTS idx_access_grants_scope
		ON access_grants(scope_type, scope_key)`,
}

// Migrate creates the access grant tables if they do not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply rbac migration: %w", err)
		}
	}
	return nil
}
