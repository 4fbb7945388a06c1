// Package auth resolves caller identities to persisted subjects.
//
// Identities arrive in one of two modes selected by configuration:
// trusted gateway headers (X-Registrar-User, X-Registrar-Email) or an
// OIDC bearer ID token verified against a configured issuer. In both
// modes the resolved identity is materialized lazily: the first request
// carrying an unknown username creates a row in the subjects table, and
// every later request reuses it. Subjects carry no credentials of their
// own; authorization is decided entirely by the rbac package from the
// grants attached to the subject.
package auth
