package entities

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store provides access to the organization and program graph
type Store interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganizationByKey(ctx context.Context, key string) (*Organization, error)
	ListOrganizations(ctx context.Context) ([]*Organization, error)

	CreateProgram(ctx context.Context, program *Program) error
	GetProgramByKey(ctx context.Context, key string) (*Program, error)
	ListPrograms(ctx context.Context) ([]*Program, error)
	ListProgramsByOrganization(ctx context.Context, orgKey string) ([]*Program, error)

	LinkProgramOrganization(ctx context.Context, programKey, orgKey string, managing bool) error
	AuthoringOrganizations(ctx context.Context, programKey string) ([]*Organization, error)
	ManagingOrganization(ctx context.Context, programKey string) (*Organization, error)
}

// SQLStore implements Store using database/sql
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// CreateOrganization creates a new organization
func (s *SQLStore) CreateOrganization(ctx context.Context, org *Organization) error {
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now

	query := `
		INSERT INTO organizations (org_key, name, discovery_uid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query, org.Key, org.Name, org.DiscoveryUID,
		org.CreatedAt, org.UpdatedAt).Scan(&org.ID)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetOrganizationByKey retrieves an organization by its key
func (s *SQLStore) GetOrganizationByKey(ctx context.Context, key string) (*Organization, error) {
	query := `
		SELECT id, org_key, name, discovery_uid, created_at, updated_at
		FROM organizations
		WHERE org_key = $1
	`
	org := &Organization{}
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&org.ID, &org.Key, &org.Name, &org.DiscoveryUID, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ListOrganizations lists all organizations ordered by key
func (s *SQLStore) ListOrganizations(ctx context.Context) ([]*Organization, error) {
	query := `
		SELECT id, org_key, name, discovery_uid, created_at, updated_at
		FROM organizations
		ORDER BY org_key
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		org := &Organization{}
		if err := rows.Scan(
			&org.ID, &org.Key, &org.Name, &org.DiscoveryUID, &org.CreatedAt, &org.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// CreateProgram creates a new program
func (s *SQLStore) CreateProgram(ctx context.Context, program *Program) error {
	now := time.Now().UTC()
	program.CreatedAt = now
	program.UpdatedAt = now

	query := `
		INSERT INTO programs (program_key, title, url, program_type, discovery_uid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query, program.Key, program.Title, program.URL,
		program.ProgramType, program.DiscoveryUID, program.CreatedAt, program.UpdatedAt).Scan(&program.ID)
	if err != nil {
		return fmt.Errorf("failed to create program: %w", err)
	}
	return nil
}

// GetProgramByKey retrieves a program by its key
func (s *SQLStore) GetProgramByKey(ctx context.Context, key string) (*Program, error) {
	query := `
		SELECT id, program_key, title, url, program_type, discovery_uid, created_at, updated_at
		FROM programs
		WHERE program_key = $1
	`
	program := &Program{}
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&program.ID, &program.Key, &program.Title, &program.URL,
		&program.ProgramType, &program.DiscoveryUID, &program.CreatedAt, &program.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get program: %w", err)
	}
	return program, nil
}

// ListPrograms lists all programs ordered by key
func (s *SQLStore) ListPrograms(ctx context.Context) ([]*Program, error) {
	query := `
		SELECT id, program_key, title, url, program_type, discovery_uid, created_at, updated_at
		FROM programs
		ORDER BY program_key
	`
	return s.queryPrograms(ctx, query)
}

// ListProgramsByOrganization lists programs authored by the given organization
func (s *SQLStore) ListProgramsByOrganization(ctx context.Context, orgKey string) ([]*Program, error) {
	query := `
		SELECT p.id, p.program_key, p.title, p.url, p.program_type, p.discovery_uid, p.created_at, p.updated_at
		FROM programs p
		JOIN program_organizations po ON p.id = po.program_id
		JOIN organizations o ON o.id = po.organization_id
		WHERE o.org_key = $1
		ORDER BY p.program_key
	`
	return s.queryPrograms(ctx, query, orgKey)
}

func (s *SQLStore) queryPrograms(ctx context.Context, query string, args ...interface{}) ([]*Program, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	defer rows.Close()

	var programs []*Program
	for rows.Next() {
		program := &Program{}
		if err := rows.Scan(
			&program.ID, &program.Key, &program.Title, &program.URL,
			&program.ProgramType, &program.DiscoveryUID, &program.CreatedAt, &program.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan program: %w", err)
		}
		programs = append(programs, program)
	}
	return programs, rows.Err()
}

// LinkProgramOrganization records the given organization as an author of the
// program. Linking the same pair twice is a no-op.
func (s *SQLStore) LinkProgramOrganization(ctx context.Context, programKey, orgKey string, managing bool) error {
	program, err := s.GetProgramByKey(ctx, programKey)
	if err != nil {
		return err
	}
	org, err := s.GetOrganizationByKey(ctx, orgKey)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO program_organizations (program_id, organization_id, is_managing)
		VALUES ($1, $2, $3)
		ON CONFLICT (program_id, organization_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, program.ID, org.ID, managing); err != nil {
		return fmt.Errorf("failed to link program organization: %w", err)
	}
	return nil
}

// AuthoringOrganizations returns all organizations that author the program.
// These are the ancestors consulted during permission resolution.
func (s *SQLStore) AuthoringOrganizations(ctx context.Context, programKey string) ([]*Organization, error) {
	query := `
		SELECT o.id, o.org_key, o.name, o.discovery_uid, o.created_at, o.updated_at
		FROM organizations o
		JOIN program_organizations po ON o.id = po.organization_id
		JOIN programs p ON p.id = po.program_id
		WHERE p.program_key = $1
		ORDER BY o.org_key
	`
	rows, err := s.db.QueryContext(ctx, query, programKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list authoring organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		org := &Organization{}
		if err := rows.Scan(
			&org.ID, &org.Key, &org.Name, &org.DiscoveryUID, &org.CreatedAt, &org.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// ManagingOrganization returns the organization that manages the program.
// Returns ErrNotFound if the program exists but no author is marked managing.
func (s *SQLStore) ManagingOrganization(ctx context.Context, programKey string) (*Organization, error) {
	query := `
		SELECT o.id, o.org_key, o.name, o.discovery_uid, o.created_at, o.updated_at
		FROM organizations o
		JOIN program_organizations po ON o.id = po.organization_id
		JOIN programs p ON p.id = po.program_id
		WHERE p.program_key = $1 AND po.is_managing
	`
	org := &Organization{}
	err := s.db.QueryRowContext(ctx, query, programKey).Scan(
		&org.ID, &org.Key, &org.Name, &org.DiscoveryUID, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get managing organization: %w", err)
	}
	return org, nil
}
