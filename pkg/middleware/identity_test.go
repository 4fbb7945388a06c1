package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/registrar/pkg/auth"
	"github.com/platinummonkey/registrar/pkg/entities"
	"github.com/platinummonkey/registrar/pkg/observability"
)

type memorySubjectStore struct {
	subjects map[string]*auth.Subject
	nextID   int64
	failWith error
}

func newMemorySubjectStore() *memorySubjectStore {
	return &memorySubjectStore{subjects: make(map[string]*auth.Subject)}
}

func (s *memorySubjectStore) EnsureSubject(_ context.Context, identity auth.Identity) (*auth.Subject, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	if existing, ok := s.subjects[identity.Username]; ok {
		return existing, nil
	}
	s.nextID++
	subject := &auth.Subject{ID: s.nextID, Username: identity.Username, Email: identity.Email}
	s.subjects[identity.Username] = subject
	return subject, nil
}

func (s *memorySubjectStore) GetSubjectByUsername(_ context.Context, username string) (*auth.Subject, error) {
	if subject, ok := s.subjects[username]; ok {
		return subject, nil
	}
	return nil, entities.ErrNotFound
}

type stubVerifier struct {
	identity auth.Identity
	err      error
}

func (v *stubVerifier) Verify(context.Context, string) (auth.Identity, error) {
	return v.identity, v.err
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func echoSubject(t *testing.T, captured **auth.Subject) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = GetSubject(r)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestIdentityHeaderMode(t *testing.T) {
	store := newMemorySubjectStore()
	m := NewIdentityMiddleware(nil, store, testLogger())

	var seen *auth.Subject
	handler := m.Handler(echoSubject(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/abc", nil)
	req.Header.Set(HeaderUsername, "amolina")
	req.Header.Set(HeaderEmail, "amolina@state-u.edu")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "amolina", seen.Username)
	assert.Equal(t, "amolina@state-u.edu", seen.Email)
}

func TestIdentityHeaderModeMissingHeader(t *testing.T) {
	m := NewIdentityMiddleware(nil, newMemorySubjectStore(), testLogger())
	handler := m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without an identity")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"missing identity header"}`, rec.Body.String())
}

func TestIdentityOIDCMode(t *testing.T) {
	store := newMemorySubjectStore()
	verifier := &stubVerifier{identity: auth.Identity{Username: "amolina"}}
	m := NewIdentityMiddleware(verifier, store, testLogger())

	var seen *auth.Subject
	handler := m.Handler(echoSubject(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "amolina", seen.Username)
}

func TestIdentityOIDCModeRejectsBadToken(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("token expired")}
	m := NewIdentityMiddleware(verifier, newMemorySubjectStore(), testLogger())
	handler := m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run with a bad token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentityOIDCModeRejectsMalformedHeader(t *testing.T) {
	m := NewIdentityMiddleware(&stubVerifier{}, newMemorySubjectStore(), testLogger())
	handler := m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, header := range []string{"", "Basic dXNlcg==", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestIdentityStoreFailure(t *testing.T) {
	store := newMemorySubjectStore()
	store.failWith = errors.New("database offline")
	m := NewIdentityMiddleware(nil, store, testLogger())
	handler := m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUsername, "amolina")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetSubjectWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, GetSubject(req))
}
