package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	type enrollReq struct {
		StudentKey string `json:"student_key"`
		Status     string `json:"status"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"student_key":"s-1","status":"enrolled"}`))

	var dest enrollReq
	require.NoError(t, ParseJSON(req, &dest))
	assert.Equal(t, "s-1", dest.StudentKey)
	assert.Equal(t, "enrolled", dest.Status)
}

func TestParseJSONInvalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))

	var dest map[string]string
	err := ParseJSON(req, &dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestParsePathString(t *testing.T) {
	router := mux.NewRouter()
	var got string
	var gotErr error
	router.HandleFunc("/programs/{program_key}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = ParsePathString(r, "program_key")
	})

	req := httptest.NewRequest(http.MethodGet, "/programs/masters-in-cs", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.NoError(t, gotErr)
	assert.Equal(t, "masters-in-cs", got)
}

func TestParsePathStringMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/programs", nil)
	_, err := ParsePathString(req, "program_key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing path parameter")
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/jobs?limit=5&fmt=csv&include_failed=true", nil)

	limit, err := ParseQueryInt(req, "limit", 20)
	require.NoError(t, err)
	assert.Equal(t, 5, limit)

	missing, err := ParseQueryInt(req, "offset", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, missing)

	assert.Equal(t, "csv", ParseQueryString(req, "fmt", "json"))
	assert.Equal(t, "json", ParseQueryString(req, "absent", "json"))

	includeFailed, err := ParseQueryBool(req, "include_failed", false)
	require.NoError(t, err)
	assert.True(t, includeFailed)
}

func TestParseQueryIntInvalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/jobs?limit=abc", nil)
	_, err := ParseQueryInt(req, "limit", 20)
	require.Error(t, err)
}

func TestRequireNonEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	assert.True(t, RequireNonEmpty(rec, "masters-in-cs", "program_key"))

	rec = httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(rec, "", "program_key"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
