package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/registrar/pkg/entities"
	"github.com/platinummonkey/registrar/pkg/observability"
)

// Resolver computes the API permissions a subject holds on organizations
// and programs. Resolution is additive: a program inherits grants from all
// of its authoring organizations, and nothing ever subtracts a permission.
type Resolver struct {
	entities entities.Store
	grants   GrantStore
	roles    *RoleTable
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewResolver creates a permission resolver
func NewResolver(entityStore entities.Store, grants GrantStore, roles *RoleTable, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		entities: entityStore,
		grants:   grants,
		roles:    roles,
		logger:   logger,
		metrics:  metrics,
	}
}

// Resolve returns the full set of API permissions the subject holds on the
// target scope. Returns entities.ErrNotFound if the target does not exist.
// Grants naming an unknown role are skipped and logged; they indicate a
// role definition was removed after grants referencing it were written.
func (r *Resolver) Resolve(ctx context.Context, subjectID int64, target Scope) (PermissionSet, error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.AuthzResolveDuration.Observe(time.Since(start).Seconds())
		}
	}()

	scopes, err := r.applicableScopes(ctx, target)
	if err != nil {
		return nil, err
	}

	grants, err := r.grants.ListGrantsForScopes(ctx, subjectID, scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	perms := make(PermissionSet)
	for _, grant := range grants {
		role, err := r.roles.Lookup(grant.Role)
		if err != nil {
			r.logger.WithField("role", grant.Role).
				WithField("subject_id", grant.SubjectID).
				Error("Access grant references unknown role")
			if r.metrics != nil {
				r.metrics.AuthzInvalidRoleTotal.Inc()
			}
			continue
		}
		for _, p := range role.Permissions {
			if api, ok := APIPermissionFor(p); ok {
				perms[api] = true
			}
		}
	}
	return perms, nil
}

// applicableScopes expands a target into the scopes whose grants apply to
// it: the target itself, plus every authoring organization for a program.
func (r *Resolver) applicableScopes(ctx context.Context, target Scope) ([]Scope, error) {
	switch target.Type {
	case ScopeOrganization:
		if _, err := r.entities.GetOrganizationByKey(ctx, target.Key); err != nil {
			return nil, err
		}
		return []Scope{target}, nil

	case ScopeProgram:
		if _, err := r.entities.GetProgramByKey(ctx, target.Key); err != nil {
			return nil, err
		}
		orgs, err := r.entities.AuthoringOrganizations(ctx, target.Key)
		if err != nil {
			return nil, err
		}
		scopes := []Scope{target}
		for _, org := range orgs {
			scopes = append(scopes, Scope{Type: ScopeOrganization, Key: org.Key})
		}
		return scopes, nil

	default:
		return nil, fmt.Errorf("cannot resolve permissions for scope type %q", target.Type)
	}
}

// HasPermission reports whether the subject holds the given API permission
// on the target scope.
func (r *Resolver) HasPermission(ctx context.Context, subjectID int64, target Scope, action APIPermission) (bool, error) {
	perms, err := r.Resolve(ctx, subjectID, target)
	if err != nil {
		return false, err
	}

	allowed := perms.Has(action)
	if r.metrics != nil {
		decision := "deny"
		if allowed {
			decision = "allow"
		}
		r.metrics.AuthzDecisionsTotal.WithLabelValues(string(action), string(target.Type), decision).Inc()
	}
	return allowed, nil
}

// HasGlobalJobRead reports whether the subject may poll jobs it does not
// own. This is the only permission checked at global scope.
func (r *Resolver) HasGlobalJobRead(ctx context.Context, subjectID int64) (bool, error) {
	grants, err := r.grants.ListGrantsForScopes(ctx, subjectID, []Scope{GlobalScope})
	if err != nil {
		return false, fmt.Errorf("failed to check global job read: %w", err)
	}
	for _, grant := range grants {
		role, err := r.roles.Lookup(grant.Role)
		if err != nil {
			continue
		}
		for _, p := range role.Permissions {
			if p == PermJobGlobalRead {
				return true, nil
			}
		}
	}
	return false, nil
}

// ListAuthorizedScopes returns the keys of every entity of the given kind
// on which the subject holds the action. It works outward from the
// subject's grants rather than resolving each entity: an organization
// grant covers the organization itself and every program it authors.
func (r *Resolver) ListAuthorizedScopes(ctx context.Context, subjectID int64, action APIPermission, kind ScopeType) ([]string, error) {
	grants, err := r.grants.ListGrantsBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorized scopes: %w", err)
	}

	keys := make(map[string]bool)
	for _, grant := range grants {
		role, err := r.roles.Lookup(grant.Role)
		if err != nil {
			r.logger.WithField("role", grant.Role).
				WithField("subject_id", grant.SubjectID).
				Error("Access grant references unknown role")
			if r.metrics != nil {
				r.metrics.AuthzInvalidRoleTotal.Inc()
			}
			continue
		}
		if !roleGrantsAction(role, action) {
			continue
		}

		switch {
		case grant.ScopeType == kind:
			keys[grant.ScopeKey] = true
		case grant.ScopeType == ScopeOrganization && kind == ScopeProgram:
			programs, err := r.entities.ListProgramsByOrganization(ctx, grant.ScopeKey)
			if err != nil {
				return nil, err
			}
			for _, program := range programs {
				keys[program.Key] = true
			}
		}
	}

	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

func roleGrantsAction(role Role, action APIPermission) bool {
	for _, p := range role.Permissions {
		if api, ok := APIPermissionFor(p); ok && api == action {
			return true
		}
	}
	return false
}
