package entities

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id BIGSERIAL PRIMARY KEY,
		org_key TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		discovery_uid TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS programs (
		id BIGSERIAL PRIMARY KEY,
		program_key TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		program_type TEXT NOT NULL DEFAULT '',
		discovery_uid TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS program_organizations (
		program_id BIGINT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
		organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		is_managing BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (program_id, organization_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_program_organizations_org
		ON program_organizations(organization_id)`,
}

// Migrate creates the organization and program tables if they do not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply entities migration: %w", err)
		}
	}
	return nil
}
