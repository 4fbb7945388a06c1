package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/registrar/pkg/auth"
	"github.com/platinummonkey/registrar/pkg/enrollments"
	"github.com/platinummonkey/registrar/pkg/entities"
	"github.com/platinummonkey/registrar/pkg/executor"
	"github.com/platinummonkey/registrar/pkg/jobs"
	"github.com/platinummonkey/registrar/pkg/middleware"
	"github.com/platinummonkey/registrar/pkg/observability"
	"github.com/platinummonkey/registrar/pkg/rbac"
	"github.com/platinummonkey/registrar/pkg/results"
)

type stubProvider struct {
	listings map[string][]enrollments.Enrollment
}

func (p *stubProvider) ListEnrollments(_ context.Context, programKey string) ([]enrollments.Enrollment, error) {
	return p.listings[programKey], nil
}

func (p *stubProvider) WriteEnrollments(_ context.Context, _ string, items []enrollments.Enrollment) (*enrollments.WriteResult, error) {
	result := &enrollments.WriteResult{Good: true, Statuses: make(map[string]enrollments.Status)}
	for _, item := range items {
		result.Statuses[item.StudentKey] = item.Status
	}
	return result, nil
}

type serverFixture struct {
	server   *Server
	subjects auth.SubjectStore
	grants   rbac.GrantStore
	jobStore *jobs.SQLStore
	results  *results.FilesystemStore
	provider *stubProvider
}

func setupServer(t *testing.T) *serverFixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE organizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			org_key TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			discovery_uid TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE programs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			program_key TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			program_type TEXT NOT NULL DEFAULT '',
			discovery_uid TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE program_organizations (
			program_id INTEGER NOT NULL,
			organization_id INTEGER NOT NULL,
			is_managing INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (program_id, organization_id)
		);

		CREATE TABLE subjects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE access_grants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			scope_type TEXT NOT NULL,
			scope_key TEXT NOT NULL DEFAULT '',
			granted_at TIMESTAMP NOT NULL,
			UNIQUE (subject_id, role, scope_type, scope_key)
		);

		CREATE TABLE jobs (
			id TEXT PRIMARY KEY,
			subject_id INTEGER NOT NULL,
			operation TEXT NOT NULL,
			scope_type TEXT NOT NULL,
			scope_key TEXT NOT NULL,
			state TEXT NOT NULL,
			result_ref TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`)
	require.NoError(t, err)

	ctx := context.Background()
	entityStore := entities.NewSQLStore(db)
	require.NoError(t, entityStore.CreateOrganization(ctx, &entities.Organization{Key: "state-u", Name: "State University"}))
	require.NoError(t, entityStore.CreateProgram(ctx, &entities.Program{Key: "masters-in-cs", Title: "Masters in CS"}))
	require.NoError(t, entityStore.CreateProgram(ctx, &entities.Program{Key: "masters-in-stats", Title: "Masters in Stats"}))
	require.NoError(t, entityStore.LinkProgramOrganization(ctx, "masters-in-cs", "state-u", true))
	require.NoError(t, entityStore.LinkProgramOrganization(ctx, "masters-in-stats", "state-u", true))

	roles, err := rbac.NewRoleTable(rbac.BuiltInRoles())
	require.NoError(t, err)
	grants := rbac.NewSQLGrantStore(db, roles)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	resolver := rbac.NewResolver(entityStore, grants, roles, logger, nil)
	subjects := auth.NewSQLSubjectStore(db)
	jobStore := jobs.NewSQLStore(db, logger, nil)

	resultStore, err := results.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	provider := &stubProvider{listings: map[string][]enrollments.Enrollment{}}
	exec := executor.New(ctx, executor.Config{
		Workers:        2,
		JobTimeout:     5 * time.Second,
		WriteBatchSize: 25,
	}, jobStore, resultStore, provider, entityStore, logger, nil, nil)
	t.Cleanup(func() { exec.Shutdown(time.Second) })

	registry := jobs.NewRegistry(jobStore, resolver, exec, logger, nil, nil)

	server := NewServer(Options{
		Registry:    registry,
		Resolver:    resolver,
		EntityStore: entityStore,
		ResultStore: resultStore,
		Identity:    middleware.NewIdentityMiddleware(nil, subjects, logger),
		Logger:      logger,
	})

	return &serverFixture{
		server:   server,
		subjects: subjects,
		grants:   grants,
		jobStore: jobStore,
		results:  resultStore,
		provider: provider,
	}
}

// subjectWithRole ensures a subject exists and holds the given role
func (f *serverFixture) subjectWithRole(t *testing.T, username, role string, scope rbac.Scope) *auth.Subject {
	t.Helper()
	subject, err := f.subjects.EnsureSubject(context.Background(), auth.Identity{Username: username})
	require.NoError(t, err)
	if role != "" {
		err = f.grants.CreateGrant(context.Background(), &rbac.AccessGrant{
			SubjectID: subject.ID,
			Role:      role,
			ScopeType: scope.Type,
			ScopeKey:  scope.Key,
			GrantedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	return subject
}

func (f *serverFixture) do(method, path, username string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if username != "" {
		req.Header.Set(middleware.HeaderUsername, username)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestAuthorizeAllowed(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", rbac.RoleOrgReadWriteEnrollments, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})

	rec := f.do(http.MethodPost, "/api/v1/authorize", "amolina",
		`{"scope_type":"program","scope_key":"masters-in-cs","action":"write_enrollments"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp AuthorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Allowed)
	assert.Contains(t, resp.Permissions, "write_enrollments")
	assert.Contains(t, resp.Permissions, "read_metadata")
}

func TestAuthorizeDenied(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", rbac.RoleOrgReadMetadata, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})

	rec := f.do(http.MethodPost, "/api/v1/authorize", "amolina",
		`{"scope_type":"program","scope_key":"masters-in-cs","action":"write_enrollments"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp AuthorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Allowed)
}

func TestAuthorizeUnknownTarget(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", "", rbac.Scope{})

	rec := f.do(http.MethodPost, "/api/v1/authorize", "amolina",
		`{"scope_type":"program","scope_key":"no-such-program","action":"read_metadata"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthorizeRejectsBadInput(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", "", rbac.Scope{})

	for name, body := range map[string]string{
		"bad scope type": `{"scope_type":"course","scope_key":"x","action":"read_metadata"}`,
		"bad action":     `{"scope_type":"program","scope_key":"masters-in-cs","action":"destroy"}`,
		"not json":       `enrollments ahoy`,
	} {
		rec := f.do(http.MethodPost, "/api/v1/authorize", "amolina", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestRequiresIdentity(t *testing.T) {
	f := setupServer(t)
	rec := f.do(http.MethodGet, "/api/v1/programs", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListProgramsFiltersToAuthorized(t *testing.T) {
	f := setupServer(t)
	// Program-scoped grant on just one of the org's two programs
	f.subjectWithRole(t, "amolina", rbac.RoleProgramReadEnrollments, rbac.Scope{Type: rbac.ScopeProgram, Key: "masters-in-cs"})

	rec := f.do(http.MethodGet, "/api/v1/programs?org=state-u", "amolina", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var programs []ProgramResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &programs))
	require.Len(t, programs, 1)
	assert.Equal(t, "masters-in-cs", programs[0].ProgramKey)
}

func TestListProgramsOrgGrantCoversAllPrograms(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", rbac.RoleOrgReadMetadata, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})

	rec := f.do(http.MethodGet, "/api/v1/programs", "amolina", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var programs []ProgramResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &programs))
	assert.Len(t, programs, 2)
}

func TestListProgramsUnknownOrg(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", "", rbac.Scope{})

	rec := f.do(http.MethodGet, "/api/v1/programs?org=nowhere-u", "amolina", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type stubDetails struct {
	details map[string]enrollments.ProgramDetails
}

func (s *stubDetails) GetProgramDetails(_ context.Context, programKey string) (enrollments.ProgramDetails, error) {
	if d, ok := s.details[programKey]; ok {
		return d, nil
	}
	return enrollments.ProgramDetails{}, entities.ErrNotFound
}

func TestGetProgramMergesProviderDetails(t *testing.T) {
	f := setupServer(t)
	f.server.details = &stubDetails{details: map[string]enrollments.ProgramDetails{
		"masters-in-cs": {Key: "masters-in-cs", Title: "Masters in Computer Science", URL: "https://provider/cs"},
	}}
	f.subjectWithRole(t, "amolina", rbac.RoleOrgReadMetadata, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})

	rec := f.do(http.MethodGet, "/api/v1/programs/masters-in-cs", "amolina", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ProgramDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "masters-in-cs", resp.ProgramKey)
	require.NotNil(t, resp.Details)
	assert.Equal(t, "https://provider/cs", resp.Details.URL)
}

func TestGetProgramHiddenWithoutGrant(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", "", rbac.Scope{})

	rec := f.do(http.MethodGet, "/api/v1/programs/masters-in-cs", "amolina", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitJobForbiddenWithoutGrant(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", "", rbac.Scope{})

	rec := f.do(http.MethodPost, "/api/v1/programs/masters-in-cs/enrollments:read", "amolina", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitJobUnknownProgram(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", rbac.RoleOrgReadEnrollments, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})

	rec := f.do(http.MethodPost, "/api/v1/programs/no-such-program/enrollments:read", "amolina", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteJobRequiresBody(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", rbac.RoleOrgReadWriteEnrollments, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})

	rec := f.do(http.MethodPost, "/api/v1/programs/masters-in-cs/enrollments", "amolina", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadJobEndToEnd(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", rbac.RoleOrgReadEnrollments, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})
	f.provider.listings["masters-in-cs"] = []enrollments.Enrollment{
		{StudentKey: "s1", Status: enrollments.StatusEnrolled},
	}

	rec := f.do(http.MethodPost, "/api/v1/programs/masters-in-cs/enrollments:read", "amolina", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.ID)
	assert.Equal(t, string(jobs.StatePending), submitted.State)

	var polled JobResponse
	deadline := time.After(5 * time.Second)
	for {
		rec = f.do(http.MethodGet, "/api/v1/jobs/"+submitted.ID, "amolina", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &polled))
		if jobs.State(polled.State).IsTerminal() {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job stuck in state %s", polled.State)
		case <-time.After(10 * time.Millisecond):
		}
	}
	require.Equal(t, string(jobs.StateSucceeded), polled.State)

	rec = f.do(http.MethodGet, "/api/v1/jobs/"+submitted.ID+"/result", "amolina", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "s1")
}

func (f *serverFixture) awaitTerminal(t *testing.T, username, jobID string) JobResponse {
	t.Helper()

	var polled JobResponse
	deadline := time.After(5 * time.Second)
	for {
		rec := f.do(http.MethodGet, "/api/v1/jobs/"+jobID, username, "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &polled))
		if jobs.State(polled.State).IsTerminal() {
			return polled
		}
		select {
		case <-deadline:
			t.Fatalf("job stuck in state %s", polled.State)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWriteResultMixedOutcomeMultiStatus(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", rbac.RoleOrgReadWriteEnrollments, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})

	rec := f.do(http.MethodPost, "/api/v1/programs/masters-in-cs/enrollments", "amolina",
		`[{"student_key":"s1","status":"enrolled"},{"student_key":"s2","status":"enrolled"},{"student_key":"s2","status":"pending"}]`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	polled := f.awaitTerminal(t, "amolina", submitted.ID)
	require.Equal(t, string(jobs.StateSucceeded), polled.State)

	rec = f.do(http.MethodGet, "/api/v1/jobs/"+submitted.ID+"/result", "amolina", "")
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Contains(t, rec.Body.String(), `"s2":"duplicated"`)
	assert.Contains(t, rec.Body.String(), `"s1":"enrolled"`)
}

func TestWriteResultAllRejectedUnprocessable(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "amolina", rbac.RoleOrgReadWriteEnrollments, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})

	rec := f.do(http.MethodPost, "/api/v1/programs/masters-in-cs/enrollments", "amolina",
		`[{"student_key":"s1","status":"enrolled"},{"student_key":"s1","status":"pending"}]`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	polled := f.awaitTerminal(t, "amolina", submitted.ID)
	require.Equal(t, string(jobs.StateSucceeded), polled.State)

	rec = f.do(http.MethodGet, "/api/v1/jobs/"+submitted.ID+"/result", "amolina", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"s1":"duplicated"`)
}

func TestForeignJobReadsAsNotFound(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "owner", rbac.RoleOrgReadEnrollments, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})
	f.subjectWithRole(t, "outsider", "", rbac.Scope{})

	rec := f.do(http.MethodPost, "/api/v1/programs/masters-in-cs/enrollments:read", "owner", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	rec = f.do(http.MethodGet, "/api/v1/jobs/"+submitted.ID, "outsider", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/jobs/"+submitted.ID+"/cancel", "outsider", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGlobalReaderSeesForeignJob(t *testing.T) {
	f := setupServer(t)
	f.subjectWithRole(t, "owner", rbac.RoleOrgReadEnrollments, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})
	f.subjectWithRole(t, "support", rbac.RoleJobGlobalReader, rbac.GlobalScope)

	rec := f.do(http.MethodPost, "/api/v1/programs/masters-in-cs/enrollments:read", "owner", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	rec = f.do(http.MethodGet, "/api/v1/jobs/"+submitted.ID, "support", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResultBeforeTerminalConflicts(t *testing.T) {
	f := setupServer(t)
	subject := f.subjectWithRole(t, "amolina", rbac.RoleOrgReadEnrollments, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})

	// A pending row that no executor is working on
	now := time.Now().UTC()
	job := &jobs.Job{
		ID:        uuid.NewString(),
		SubjectID: subject.ID,
		Operation: jobs.OperationReadEnrollments,
		ScopeType: rbac.ScopeProgram,
		ScopeKey:  "masters-in-cs",
		State:     jobs.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.jobStore.CreateJob(context.Background(), job))

	rec := f.do(http.MethodGet, "/api/v1/jobs/"+job.ID+"/result", "amolina", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResultOfFailedJobConflicts(t *testing.T) {
	f := setupServer(t)
	subject := f.subjectWithRole(t, "amolina", rbac.RoleOrgReadEnrollments, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})

	ctx := context.Background()
	now := time.Now().UTC()
	job := &jobs.Job{
		ID:        uuid.NewString(),
		SubjectID: subject.ID,
		Operation: jobs.OperationReadEnrollments,
		ScopeType: rbac.ScopeProgram,
		ScopeKey:  "masters-in-cs",
		State:     jobs.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.jobStore.CreateJob(ctx, job))
	require.NoError(t, f.jobStore.Start(ctx, job.ID))
	require.NoError(t, f.jobStore.Fail(ctx, job.ID, "downstream failure: connection refused"))

	rec := f.do(http.MethodGet, "/api/v1/jobs/"+job.ID+"/result", "amolina", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "downstream failure")
}

func TestCancelJob(t *testing.T) {
	f := setupServer(t)
	subject := f.subjectWithRole(t, "amolina", rbac.RoleOrgReadEnrollments, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})

	now := time.Now().UTC()
	job := &jobs.Job{
		ID:        uuid.NewString(),
		SubjectID: subject.ID,
		Operation: jobs.OperationReadEnrollments,
		ScopeType: rbac.ScopeProgram,
		ScopeKey:  "masters-in-cs",
		State:     jobs.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.jobStore.CreateJob(context.Background(), job))

	rec := f.do(http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", "amolina", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	canceled, err := f.jobStore.IsCancelRequested(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, canceled)
}
