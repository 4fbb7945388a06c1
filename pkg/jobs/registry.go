package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/registrar/pkg/audit"
	"github.com/platinummonkey/registrar/pkg/observability"
	"github.com/platinummonkey/registrar/pkg/rbac"
)

// Submitter hands a persisted job to the execution pool. The payload
// travels in memory only; it is never stored on the job row.
type Submitter interface {
	Submit(job *Job, payload []byte) error
}

// Registry is the job lifecycle front door. Create authorizes through
// the resolver before persisting; Get enforces owner-or-global-read
// visibility, answering NotFound for jobs the caller may not see.
type Registry struct {
	store    Store
	resolver *rbac.Resolver
	executor Submitter
	logger   *observability.Logger
	metrics  *observability.Metrics
	recorder audit.Recorder
}

// NewRegistry creates a registry. metrics may be nil; recorder may be
// audit.NopRecorder.
func NewRegistry(store Store, resolver *rbac.Resolver, executor Submitter, logger *observability.Logger, metrics *observability.Metrics, recorder audit.Recorder) *Registry {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Registry{
		store:    store,
		resolver: resolver,
		executor: executor,
		logger:   logger,
		metrics:  metrics,
		recorder: recorder,
	}
}

// permissionFor maps an operation to the API permission it requires.
func permissionFor(op Operation) (rbac.APIPermission, error) {
	switch op {
	case OperationReadEnrollments:
		return rbac.APIReadEnrollments, nil
	case OperationWriteEnrollments:
		return rbac.APIWriteEnrollments, nil
	case OperationGenerateReport:
		return rbac.APIReadReports, nil
	}
	return "", fmt.Errorf("unknown operation %q", op)
}

// Create authorizes, persists and submits a new job, returning it in
// PENDING state. The caller gets the job id immediately; execution is
// fire-and-forget.
func (r *Registry) Create(ctx context.Context, subjectID int64, op Operation, target rbac.Scope, payload []byte) (*Job, error) {
	action, err := permissionFor(op)
	if err != nil {
		return nil, err
	}

	allowed, err := r.resolver.HasPermission(ctx, subjectID, target, action)
	if err != nil {
		return nil, err
	}
	if !allowed {
		r.recorder.Record(ctx, audit.Event{
			Type:      audit.EventTypeAuthzDecision,
			SubjectID: subjectID,
			Action:    string(action),
			ScopeType: string(target.Type),
			ScopeKey:  target.Key,
			Allowed:   audit.Bool(false),
		})
		return nil, ErrUnauthorized
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Operation: op,
		ScopeType: target.Type,
		ScopeKey:  target.Key,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.JobsSubmittedTotal.WithLabelValues(string(op)).Inc()
	}
	r.recorder.Record(ctx, audit.Event{
		Type:      audit.EventTypeJobSubmitted,
		SubjectID: subjectID,
		JobID:     job.ID,
		Operation: string(op),
		ScopeType: string(target.Type),
		ScopeKey:  target.Key,
	})

	if err := r.executor.Submit(job, payload); err != nil {
		// The job row exists but will never run; finalize it so the
		// caller does not poll a forever-PENDING job.
		if failErr := r.store.Fail(ctx, job.ID, "executor rejected job: "+err.Error()); failErr != nil {
			r.logger.WithField("job_id", job.ID).WithError(failErr).Error("failed to finalize rejected job")
		}
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"job_id":    job.ID,
		"operation": string(op),
		"scope":     target.Key,
	}).Info("job submitted")
	return job, nil
}

// Get returns the job if the caller owns it or holds global job read.
// Anyone else gets ErrNotFound, never a confirmation the job exists.
func (r *Registry) Get(ctx context.Context, subjectID int64, jobID string) (*Job, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.SubjectID != subjectID {
		global, err := r.resolver.HasGlobalJobRead(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		if !global {
			return nil, ErrNotFound
		}
	}
	return job, nil
}

// RequestCancel sets the advisory cancellation flag, subject to the
// same visibility rule as Get.
func (r *Registry) RequestCancel(ctx context.Context, subjectID int64, jobID string) error {
	job, err := r.Get(ctx, subjectID, jobID)
	if err != nil {
		return err
	}
	if err := r.store.RequestCancel(ctx, job.ID); err != nil {
		return err
	}

	r.recorder.Record(ctx, audit.Event{
		Type:      audit.EventTypeJobCancelRequested,
		SubjectID: subjectID,
		JobID:     job.ID,
		Operation: string(job.Operation),
	})
	return nil
}
