// Package middleware provides HTTP middleware for identity resolution,
// request tagging, observability, and rate limiting.
//
// # Middleware Components
//
// IdentityMiddleware: resolves the calling subject
//
//	m := middleware.NewIdentityMiddleware(verifier, subjectStore, logger)
//	router.Use(m.Handler)
//	// Header mode trusts X-Registrar-User from the gateway;
//	// OIDC mode verifies the Bearer token itself.
//
// RequestID: tags every request with an ID
//
//	router.Use(middleware.RequestID)
//
// ObserveMiddleware: request logging and Prometheus metrics
//
//	router.Use(middleware.NewObserveMiddleware(logger, metrics).Handler)
//
// RateLimitMiddleware / DistributedRateLimitMiddleware: in-memory or
// Redis-backed rate limiting, keyed by subject when authenticated and
// by client IP otherwise.
//
// # Rate Limiting
//
// Default (Anonymous): 100 req/min, 10 burst
// Per-Subject: 1000 req/min, 50 burst
//
// # Related Packages
//
//   - pkg/auth: identity verification and subject store
//   - pkg/contextkeys: context key definitions
//   - pkg/rbac: permission checking
package middleware
