package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ScopeType identifies the kind of entity a grant or check targets
type ScopeType string

const (
	ScopeOrganization ScopeType = "organization"
	ScopeProgram      ScopeType = "program"
	// ScopeGlobal grants apply everywhere. Only internal-only roles such as
	// job_global_reader are granted at this scope.
	ScopeGlobal ScopeType = "global"
)

// Scope is a concrete grant target: a scope type plus the entity key.
// Global scopes have an empty key.
type Scope struct {
	Type ScopeType `json:"type"`
	Key  string    `json:"key,omitempty"`
}

// GlobalScope is the scope of process-wide grants
var GlobalScope = Scope{Type: ScopeGlobal}

// AccessGrant assigns a role to a subject on a scope
type AccessGrant struct {
	ID        int64     `json:"id"`
	SubjectID int64     `json:"subject_id"`
	Role      string    `json:"role"`
	ScopeType ScopeType `json:"scope_type"`
	ScopeKey  string    `json:"scope_key"`
	GrantedAt time.Time `json:"granted_at"`
}

// Scope returns the grant's target scope
func (g *AccessGrant) Scope() Scope {
	return Scope{Type: g.ScopeType, Key: g.ScopeKey}
}

// GrantStore provides durable storage of access grants
type GrantStore interface {
	CreateGrant(ctx context.Context, grant *AccessGrant) error
	RevokeGrant(ctx context.Context, subjectID int64, role string, scope Scope) error
	ListGrantsBySubject(ctx context.Context, subjectID int64) ([]*AccessGrant, error)
	ListGrantsForScopes(ctx context.Context, subjectID int64, scopes []Scope) ([]*AccessGrant, error)
}

// SQLGrantStore implements GrantStore using database/sql
type SQLGrantStore struct {
	db    *sql.DB
	roles *RoleTable
}

// NewSQLGrantStore creates a grant store that validates roles against the
// given role table at grant creation.
func NewSQLGrantStore(db *sql.DB, roles *RoleTable) *SQLGrantStore {
	return &SQLGrantStore{db: db, roles: roles}
}

// CreateGrant persists a grant. The role must exist in the role table.
// Granting an identical (subject, role, scope) tuple again is a no-op.
func (s *SQLGrantStore) CreateGrant(ctx context.Context, grant *AccessGrant) error {
	if _, err := s.roles.Lookup(grant.Role); err != nil {
		return err
	}
	if grant.ScopeType != ScopeGlobal && grant.ScopeKey == "" {
		return fmt.Errorf("scope key is required for %s grants", grant.ScopeType)
	}
	grant.GrantedAt = time.Now().UTC()

	query := `
		INSERT INTO access_grants (subject_id, role, scope_type, scope_key, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id, role, scope_type, scope_key) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query,
		grant.SubjectID, grant.Role, grant.ScopeType, grant.ScopeKey, grant.GrantedAt); err != nil {
		return fmt.Errorf("failed to create access grant: %w", err)
	}
	return nil
}

// RevokeGrant removes a grant. Revoking a grant that does not exist is a
// no-op.
func (s *SQLGrantStore) RevokeGrant(ctx context.Context, subjectID int64, role string, scope Scope) error {
	query := `
		DELETE FROM access_grants
		WHERE subject_id = $1 AND role = $2 AND scope_type = $3 AND scope_key = $4
	`
	if _, err := s.db.ExecContext(ctx, query, subjectID, role, scope.Type, scope.Key); err != nil {
		return fmt.Errorf("failed to revoke access grant: %w", err)
	}
	return nil
}

// ListGrantsBySubject returns every grant held by the subject
func (s *SQLGrantStore) ListGrantsBySubject(ctx context.Context, subjectID int64) ([]*AccessGrant, error) {
	query := `
		SELECT id, subject_id, role, scope_type, scope_key, granted_at
		FROM access_grants
		WHERE subject_id = $1
		ORDER BY scope_type, scope_key, role
	`
	return s.queryGrants(ctx, query, subjectID)
}

// ListGrantsForScopes returns the subject's grants on any of the given
// scopes. Used by the resolver with the applicable-scope set of a target.
func (s *SQLGrantStore) ListGrantsForScopes(ctx context.Context, subjectID int64, scopes []Scope) ([]*AccessGrant, error) {
	if len(scopes) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(scopes))
	args := []interface{}{subjectID}
	argPos := 2
	for _, scope := range scopes {
		clauses = append(clauses, fmt.Sprintf("(scope_type = $%d AND scope_key = $%d)", argPos, argPos+1))
		args = append(args, scope.Type, scope.Key)
		argPos += 2
	}

	query := fmt.Sprintf(`
		SELECT id, subject_id, role, scope_type, scope_key, granted_at
		FROM access_grants
		WHERE subject_id = $1 AND (%s)
		ORDER BY scope_type, scope_key, role
	`, strings.Join(clauses, " OR "))

	return s.queryGrants(ctx, query, args...)
}

func (s *SQLGrantStore) queryGrants(ctx context.Context, query string, args ...interface{}) ([]*AccessGrant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list access grants: %w", err)
	}
	defer rows.Close()

	var grants []*AccessGrant
	for rows.Next() {
		grant := &AccessGrant{}
		if err := rows.Scan(
			&grant.ID, &grant.SubjectID, &grant.Role,
			&grant.ScopeType, &grant.ScopeKey, &grant.GrantedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan access grant: %w", err)
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}
