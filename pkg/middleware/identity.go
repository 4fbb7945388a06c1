package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/registrar/pkg/auth"
	"github.com/platinummonkey/registrar/pkg/contextkeys"
	"github.com/platinummonkey/registrar/pkg/observability"
)

// Trusted gateway headers consumed in header mode.
const (
	HeaderUsername = "X-Registrar-User"
	HeaderEmail    = "X-Registrar-Email"
)

// TokenVerifier turns a bearer token into an identity. Satisfied by
// auth.OIDCVerifier.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.Identity, error)
}

// IdentityMiddleware resolves the calling subject for every request.
//
// In header mode the service trusts an upstream gateway to have already
// authenticated the caller and to pass the identity in request headers.
// In oidc mode the service verifies a bearer token itself.
// Either way the subject row is created on first sighting.
type IdentityMiddleware struct {
	verifier TokenVerifier // nil in header mode
	subjects auth.SubjectStore
	logger   *observability.Logger
}

// NewIdentityMiddleware creates identity middleware. A nil verifier
// selects header mode.
func NewIdentityMiddleware(verifier TokenVerifier, subjects auth.SubjectStore, logger *observability.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{
		verifier: verifier,
		subjects: subjects,
		logger:   logger,
	}
}

// Handler wraps an HTTP handler with identity resolution
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := m.resolveIdentity(w, r)
		if !ok {
			return
		}

		subject, err := m.subjects.EnsureSubject(r.Context(), identity)
		if err != nil {
			m.logger.WithField("username", identity.Username).WithError(err).
				Error("failed to resolve subject")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"failed to resolve identity"}`))
			return
		}

		ctx := contextkeys.WithSubject(r.Context(), subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *IdentityMiddleware) resolveIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	if m.verifier == nil {
		username := r.Header.Get(HeaderUsername)
		if username == "" {
			unauthorizedResponse(w, "missing identity header")
			return auth.Identity{}, false
		}
		return auth.Identity{Username: username, Email: r.Header.Get(HeaderEmail)}, true
	}

	// OIDC mode: "Bearer <token>"
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		unauthorizedResponse(w, "missing authorization header")
		return auth.Identity{}, false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		unauthorizedResponse(w, "invalid authorization header format")
		return auth.Identity{}, false
	}

	identity, err := m.verifier.Verify(r.Context(), parts[1])
	if err != nil {
		m.logger.WithError(err).Debug("token verification failed")
		unauthorizedResponse(w, "invalid or expired token")
		return auth.Identity{}, false
	}
	return identity, true
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

// GetSubject extracts the resolved subject from a request. Returns nil
// when the request never went through the identity middleware.
func GetSubject(r *http.Request) *auth.Subject {
	value := r.Context().Value(contextkeys.SubjectKey)
	if value == nil {
		return nil
	}
	subject, ok := value.(*auth.Subject)
	if !ok {
		return nil
	}
	return subject
}
