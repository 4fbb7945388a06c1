package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/registrar/pkg/enrollments"
	"github.com/platinummonkey/registrar/pkg/entities"
	"github.com/platinummonkey/registrar/pkg/jobs"
	"github.com/platinummonkey/registrar/pkg/observability"
	"github.com/platinummonkey/registrar/pkg/rbac"
	"github.com/platinummonkey/registrar/pkg/results"
)

// fakeProvider scripts downstream behavior per test.
type fakeProvider struct {
	listings     map[string][]enrollments.Enrollment
	listDelay    time.Duration
	writeBatches [][]enrollments.Enrollment
	failBatch    int    // 1-based batch index that triggers an outage, 0 = never
	invalidKey   string // student key the provider rejects per-item
}

func (p *fakeProvider) ListEnrollments(ctx context.Context, programKey string) ([]enrollments.Enrollment, error) {
	if p.listDelay > 0 {
		select {
		case <-time.After(p.listDelay):
		case <-ctx.Done():
			// The real client wraps its sentinel around the context
			// error, so an interrupted call carries both.
			return nil, fmt.Errorf("%w: %w", enrollments.ErrDownstream, ctx.Err())
		}
	}
	return p.listings[programKey], nil
}

func (p *fakeProvider) WriteEnrollments(ctx context.Context, programKey string, items []enrollments.Enrollment) (*enrollments.WriteResult, error) {
	p.writeBatches = append(p.writeBatches, items)
	if p.failBatch > 0 && len(p.writeBatches) >= p.failBatch {
		return nil, fmt.Errorf("%w: connection refused", enrollments.ErrDownstream)
	}

	result := &enrollments.WriteResult{Statuses: make(map[string]enrollments.Status, len(items))}
	for _, item := range items {
		if item.StudentKey == p.invalidKey {
			result.Statuses[item.StudentKey] = enrollments.StatusInvalid
			result.Bad = true
			continue
		}
		result.Statuses[item.StudentKey] = item.Status
		result.Good = true
	}
	return result, nil
}

type executorFixture struct {
	executor *Executor
	store    *jobs.SQLStore
	results  *results.FilesystemStore
	provider *fakeProvider
}

func setupExecutor(t *testing.T, cfg Config) *executorFixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
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
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	ctx := context.Background()
	entityStore := entities.NewSQLStore(db)
	if err := entityStore.CreateOrganization(ctx, &entities.Organization{Key: "state-u", Name: "State University"}); err != nil {
		t.Fatalf("Failed to seed organization: %v", err)
	}
	for _, key := range []string{"masters-in-cs", "masters-in-stats"} {
		if err := entityStore.CreateProgram(ctx, &entities.Program{Key: key, Title: key}); err != nil {
			t.Fatalf("Failed to seed program: %v", err)
		}
		if err := entityStore.LinkProgramOrganization(ctx, key, "state-u", true); err != nil {
			t.Fatalf("Failed to link program: %v", err)
		}
	}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	jobStore := jobs.NewSQLStore(db, logger, nil)

	resultStore, err := results.NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create result store: %v", err)
	}

	provider := &fakeProvider{listings: map[string][]enrollments.Enrollment{}}
	exec := New(ctx, cfg, jobStore, resultStore, provider, entityStore, logger, nil, nil)
	t.Cleanup(func() { exec.Shutdown(time.Second) })

	return &executorFixture{
		executor: exec,
		store:    jobStore,
		results:  resultStore,
		provider: provider,
	}
}

func defaultConfig() Config {
	return Config{Workers: 2, JobTimeout: 5 * time.Second, WriteBatchSize: 50}
}

func (f *executorFixture) createJob(t *testing.T, op jobs.Operation, scope rbac.Scope) *jobs.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &jobs.Job{
		ID:        uuid.NewString(),
		SubjectID: 7,
		Operation: op,
		ScopeType: scope.Type,
		ScopeKey:  scope.Key,
		State:     jobs.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	return job
}

func (f *executorFixture) finalJob(t *testing.T, id string) *jobs.Job {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to reload job: %v", err)
	}
	return job
}

func TestWriteJobPartialFailures(t *testing.T) {
	// 150 learners with a batch limit of 50 should go out as exactly
	// three batches; one per-item rejection must not fail the job.
	f := setupExecutor(t, defaultConfig())
	f.provider.invalidKey = "student-075"

	var items []enrollments.Enrollment
	for i := 0; i < 150; i++ {
		items = append(items, enrollments.Enrollment{
			StudentKey: fmt.Sprintf("student-%03d", i),
			Status:     enrollments.StatusEnrolled,
		})
	}
	payload, _ := json.Marshal(items)

	job := f.createJob(t, jobs.OperationWriteEnrollments, rbac.Scope{Type: rbac.ScopeProgram, Key: "masters-in-cs"})
	f.executor.run(context.Background(), job, payload)

	final := f.finalJob(t, job.ID)
	if final.State != jobs.StateSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", final.State, final.FailureReason)
	}
	if len(f.provider.writeBatches) != 3 {
		t.Errorf("expected 3 batches, got %d", len(f.provider.writeBatches))
	}

	data, contentType, err := f.results.Get(context.Background(), final.ResultRef)
	if err != nil {
		t.Fatalf("Failed to fetch artifact: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("expected JSON artifact, got %s", contentType)
	}

	var artifact writeArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		t.Fatalf("Failed to decode artifact: %v", err)
	}
	if !artifact.Good || !artifact.Bad {
		t.Errorf("expected mixed outcome, got good=%v bad=%v", artifact.Good, artifact.Bad)
	}

	successes, failures := 0, 0
	for _, status := range artifact.Results {
		if status == enrollments.StatusEnrolled {
			successes++
		} else {
			failures++
		}
	}
	if successes != 149 || failures != 1 {
		t.Errorf("expected 149 successes and 1 failure, got %d/%d", successes, failures)
	}
}

func TestWriteJobDownstreamOutage(t *testing.T) {
	// An outage mid-way fails the job and leaves no partial artifact.
	f := setupExecutor(t, defaultConfig())
	f.provider.failBatch = 2

	var items []enrollments.Enrollment
	for i := 0; i < 150; i++ {
		items = append(items, enrollments.Enrollment{
			StudentKey: fmt.Sprintf("student-%03d", i),
			Status:     enrollments.StatusEnrolled,
		})
	}
	payload, _ := json.Marshal(items)

	job := f.createJob(t, jobs.OperationWriteEnrollments, rbac.Scope{Type: rbac.ScopeProgram, Key: "masters-in-cs"})
	f.executor.run(context.Background(), job, payload)

	final := f.finalJob(t, job.ID)
	if final.State != jobs.StateFailed {
		t.Fatalf("expected FAILED, got %s", final.State)
	}
	if !strings.Contains(final.FailureReason, "downstream failure") {
		t.Errorf("unexpected failure reason %q", final.FailureReason)
	}
	if len(f.provider.writeBatches) != 2 {
		t.Errorf("expected the third batch to never be sent, got %d batches", len(f.provider.writeBatches))
	}

	refs, err := f.results.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list artifacts: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("expected no partial artifact, found %v", refs)
	}
}

func TestWriteJobSettlesDuplicatesAndInvalidLocally(t *testing.T) {
	f := setupExecutor(t, defaultConfig())

	payload, _ := json.Marshal([]enrollments.Enrollment{
		{StudentKey: "dup", Status: enrollments.StatusEnrolled},
		{StudentKey: "dup", Status: enrollments.StatusPending},
		{StudentKey: "bogus", Status: enrollments.Status("graduated")},
		{StudentKey: "ok", Status: enrollments.StatusEnrolled},
	})

	job := f.createJob(t, jobs.OperationWriteEnrollments, rbac.Scope{Type: rbac.ScopeProgram, Key: "masters-in-cs"})
	f.executor.run(context.Background(), job, payload)

	final := f.finalJob(t, job.ID)
	if final.State != jobs.StateSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", final.State, final.FailureReason)
	}
	if len(f.provider.writeBatches) != 1 || len(f.provider.writeBatches[0]) != 1 {
		t.Errorf("only the valid unique learner should be forwarded: %v", f.provider.writeBatches)
	}

	data, _, _ := f.results.Get(context.Background(), final.ResultRef)
	var artifact writeArtifact
	json.Unmarshal(data, &artifact)
	if artifact.Results["dup"] != enrollments.StatusDuplicated {
		t.Errorf("expected duplicated, got %s", artifact.Results["dup"])
	}
	if artifact.Results["bogus"] != enrollments.StatusInvalid {
		t.Errorf("expected invalid-status, got %s", artifact.Results["bogus"])
	}
	if artifact.Results["ok"] != enrollments.StatusEnrolled {
		t.Errorf("expected enrolled, got %s", artifact.Results["ok"])
	}
}

func TestReadJobCSV(t *testing.T) {
	f := setupExecutor(t, defaultConfig())
	f.provider.listings["masters-in-cs"] = []enrollments.Enrollment{
		{StudentKey: "s1", Status: enrollments.StatusEnrolled},
		{StudentKey: "s2", Status: enrollments.StatusPending},
	}

	job := f.createJob(t, jobs.OperationReadEnrollments, rbac.Scope{Type: rbac.ScopeProgram, Key: "masters-in-cs"})
	f.executor.run(context.Background(), job, []byte(`{"format":"csv"}`))

	final := f.finalJob(t, job.ID)
	if final.State != jobs.StateSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", final.State, final.FailureReason)
	}

	data, contentType, err := f.results.Get(context.Background(), final.ResultRef)
	if err != nil {
		t.Fatalf("Failed to fetch artifact: %v", err)
	}
	if contentType != "text/csv" {
		t.Errorf("expected text/csv, got %s", contentType)
	}
	if !strings.HasPrefix(string(data), "student_key,status\n") {
		t.Errorf("unexpected CSV content %q", data)
	}
}

func TestJobTimeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.JobTimeout = 50 * time.Millisecond
	f := setupExecutor(t, cfg)
	f.provider.listDelay = time.Second

	job := f.createJob(t, jobs.OperationReadEnrollments, rbac.Scope{Type: rbac.ScopeProgram, Key: "masters-in-cs"})
	f.executor.run(context.Background(), job, nil)

	final := f.finalJob(t, job.ID)
	if final.State != jobs.StateFailed {
		t.Fatalf("expected FAILED, got %s", final.State)
	}
	if !strings.HasPrefix(final.FailureReason, "timeout") {
		t.Errorf("unexpected failure reason %q", final.FailureReason)
	}
}

func TestAdvisoryCancellation(t *testing.T) {
	f := setupExecutor(t, defaultConfig())

	payload, _ := json.Marshal([]enrollments.Enrollment{
		{StudentKey: "s1", Status: enrollments.StatusEnrolled},
	})
	job := f.createJob(t, jobs.OperationWriteEnrollments, rbac.Scope{Type: rbac.ScopeProgram, Key: "masters-in-cs"})
	if err := f.store.RequestCancel(context.Background(), job.ID); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}

	f.executor.run(context.Background(), job, payload)

	final := f.finalJob(t, job.ID)
	if final.State != jobs.StateFailed {
		t.Fatalf("expected FAILED, got %s", final.State)
	}
	if !strings.HasPrefix(final.FailureReason, "canceled") {
		t.Errorf("unexpected failure reason %q", final.FailureReason)
	}
	if len(f.provider.writeBatches) != 0 {
		t.Error("canceled job must not reach the provider")
	}
}

func TestReportJobAggregatesOrganization(t *testing.T) {
	f := setupExecutor(t, defaultConfig())
	f.provider.listings["masters-in-cs"] = []enrollments.Enrollment{
		{StudentKey: "s1", Status: enrollments.StatusEnrolled},
		{StudentKey: "s2", Status: enrollments.StatusEnrolled},
		{StudentKey: "s3", Status: enrollments.StatusPending},
	}
	f.provider.listings["masters-in-stats"] = []enrollments.Enrollment{
		{StudentKey: "s4", Status: enrollments.StatusEnrolled},
	}

	job := f.createJob(t, jobs.OperationGenerateReport, rbac.Scope{Type: rbac.ScopeOrganization, Key: "state-u"})
	f.executor.run(context.Background(), job, nil)

	final := f.finalJob(t, job.ID)
	if final.State != jobs.StateSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", final.State, final.FailureReason)
	}

	data, _, err := f.results.Get(context.Background(), final.ResultRef)
	if err != nil {
		t.Fatalf("Failed to fetch artifact: %v", err)
	}
	var artifact reportArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		t.Fatalf("Failed to decode artifact: %v", err)
	}
	if artifact.TotalEnrollments != 4 {
		t.Errorf("expected 4 enrollments, got %d", artifact.TotalEnrollments)
	}
	if len(artifact.Programs) != 2 {
		t.Fatalf("expected 2 programs, got %d", len(artifact.Programs))
	}
	for _, report := range artifact.Programs {
		if report.ProgramKey == "masters-in-cs" && report.ByStatus["enrolled"] != 2 {
			t.Errorf("unexpected per-status counts %v", report.ByStatus)
		}
	}
}

func TestSubmitRunsThroughPool(t *testing.T) {
	f := setupExecutor(t, defaultConfig())
	f.provider.listings["masters-in-cs"] = []enrollments.Enrollment{
		{StudentKey: "s1", Status: enrollments.StatusEnrolled},
	}

	job := f.createJob(t, jobs.OperationReadEnrollments, rbac.Scope{Type: rbac.ScopeProgram, Key: "masters-in-cs"})
	if err := f.executor.Submit(job, nil); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		final := f.finalJob(t, job.ID)
		if final.State.IsTerminal() {
			if final.State != jobs.StateSucceeded {
				t.Fatalf("expected SUCCEEDED, got %s (%s)", final.State, final.FailureReason)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("job never reached a terminal state")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
