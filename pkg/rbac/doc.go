// Package rbac implements authorization resolution for the registrar.
//
// # Model
//
// Subjects hold AccessGrants: (role, scope) pairs where a scope is an
// organization, a program, or the global scope. Roles are static bundles of
// internal permissions, fixed at process start (optionally overlaid from a
// YAML file). Internal permissions are flavored by scope kind so audit
// records distinguish organization-derived from program-derived access;
// API callers only ever see the coarse APIPermission vocabulary.
//
// # Resolution
//
// Resolve computes the union of role expansions across all grants on a
// target's applicable scopes. For an organization the applicable scope is
// the organization itself; for a program it is the program plus every
// authoring organization. Resolution is purely additive.
//
//	resolver := rbac.NewResolver(entityStore, grantStore, roles, logger, metrics)
//	perms, err := resolver.Resolve(ctx, subjectID, rbac.Scope{
//		Type: rbac.ScopeProgram,
//		Key:  "masters-in-cs",
//	})
//	if perms.Has(rbac.APIWriteEnrollments) { ... }
//
// ListAuthorizedScopes answers the inverse question (which programs can
// this subject read?) by expanding the subject's grants outward instead of
// resolving every entity.
//
// # Invariants
//
// VerifyPermissionMapping must pass at startup: every internal permission
// maps to exactly one API permission or is explicitly internal-only.
// Grants are validated against the role table when created; a stored grant
// naming an unknown role is skipped during resolution and logged.
package rbac
