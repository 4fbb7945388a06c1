package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/registrar/pkg/audit"
	"github.com/platinummonkey/registrar/pkg/enrollments"
	"github.com/platinummonkey/registrar/pkg/entities"
	"github.com/platinummonkey/registrar/pkg/jobs"
	"github.com/platinummonkey/registrar/pkg/observability"
	"github.com/platinummonkey/registrar/pkg/results"
)

// errCanceled aborts a task when the advisory cancellation flag is
// observed between batches.
var errCanceled = errors.New("cancellation requested")

// Provider is the slice of the enrollment client the executor needs.
type Provider interface {
	ListEnrollments(ctx context.Context, programKey string) ([]enrollments.Enrollment, error)
	WriteEnrollments(ctx context.Context, programKey string, items []enrollments.Enrollment) (*enrollments.WriteResult, error)
}

// Config bounds executor resources.
type Config struct {
	Workers        int
	JobTimeout     time.Duration
	WriteBatchSize int
}

// Executor claims submitted jobs, runs the bulk operation on a worker
// pool and finalizes each job through the store's guarded transitions.
// It implements jobs.Submitter.
type Executor struct {
	pool        *WorkerPool
	store       jobs.Store
	resultStore results.Store
	provider    Provider
	entities    entities.Store
	cfg         Config
	logger      *observability.Logger
	metrics     *observability.Metrics
	recorder    audit.Recorder
}

// New starts an executor with cfg.Workers workers. metrics may be
// nil; recorder may be nil for no auditing.
func New(ctx context.Context, cfg Config, store jobs.Store, resultStore results.Store, provider Provider, entityStore entities.Store, logger *observability.Logger, metrics *observability.Metrics, recorder audit.Recorder) *Executor {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Executor{
		pool:        NewWorkerPool(ctx, cfg.Workers, logger),
		store:       store,
		resultStore: resultStore,
		provider:    provider,
		entities:    entityStore,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		recorder:    recorder,
	}
}

// Submit queues a job for execution. The payload travels in memory
// with the task.
func (e *Executor) Submit(job *jobs.Job, payload []byte) error {
	return e.pool.Submit(func(ctx context.Context) {
		e.run(ctx, job, payload)
	})
}

// Shutdown drains queued jobs, waiting up to timeout.
func (e *Executor) Shutdown(timeout time.Duration) error {
	return e.pool.Shutdown(timeout)
}

func (e *Executor) run(ctx context.Context, job *jobs.Job, payload []byte) {
	log := e.logger.WithFields(map[string]interface{}{
		"job_id":    job.ID,
		"operation": string(job.Operation),
		"scope":     job.ScopeKey,
	})

	if err := e.store.Start(ctx, job.ID); err != nil {
		// Lost the claim; someone else already moved the job.
		log.WithError(err).Error("failed to claim job")
		return
	}

	if e.metrics != nil {
		e.metrics.JobsInProgress.Inc()
		defer e.metrics.JobsInProgress.Dec()
	}
	e.recorder.Record(ctx, audit.Event{
		Type:      audit.EventTypeJobStarted,
		SubjectID: job.SubjectID,
		JobID:     job.ID,
		Operation: string(job.Operation),
	})

	start := time.Now()

	// The timeout bounds the bulk work only. Finalization runs on the
	// worker context so a timed-out job can still be failed properly.
	jobCtx, cancel := context.WithTimeout(ctx, e.cfg.JobTimeout)
	payloadBytes, contentType, err := e.execute(jobCtx, job, payload)
	cancel()

	switch {
	case err == nil:
		ref, putErr := e.resultStore.Put(ctx, job.ID, payloadBytes, contentType)
		if putErr != nil {
			e.finalizeFailed(ctx, job, "failed to store result: "+putErr.Error())
			break
		}
		if err := e.store.Succeed(ctx, job.ID, ref); err != nil {
			log.WithError(err).Error("failed to finalize job")
			break
		}
		e.recorder.Record(ctx, audit.Event{
			Type:      audit.EventTypeJobSucceeded,
			SubjectID: job.SubjectID,
			JobID:     job.ID,
			Operation: string(job.Operation),
		})
		if e.metrics != nil {
			e.metrics.JobsCompletedTotal.WithLabelValues(string(job.Operation), string(jobs.StateSucceeded)).Inc()
		}
		log.Info("job succeeded")

	case errors.Is(err, errCanceled):
		e.finalizeFailed(ctx, job, "canceled: cancellation requested")

	case errors.Is(err, context.DeadlineExceeded):
		e.finalizeFailed(ctx, job, fmt.Sprintf("timeout: exceeded %v", e.cfg.JobTimeout))

	case errors.Is(err, enrollments.ErrDownstream):
		e.finalizeFailed(ctx, job, "downstream failure: "+err.Error())

	default:
		e.finalizeFailed(ctx, job, err.Error())
	}

	if e.metrics != nil {
		e.metrics.JobDuration.WithLabelValues(string(job.Operation)).Observe(time.Since(start).Seconds())
	}
}

func (e *Executor) finalizeFailed(ctx context.Context, job *jobs.Job, reason string) {
	if err := e.store.Fail(ctx, job.ID, reason); err != nil {
		e.logger.WithField("job_id", job.ID).WithError(err).Error("failed to finalize job")
		return
	}
	e.recorder.Record(ctx, audit.Event{
		Type:      audit.EventTypeJobFailed,
		SubjectID: job.SubjectID,
		JobID:     job.ID,
		Operation: string(job.Operation),
		Detail:    reason,
	})
	if e.metrics != nil {
		e.metrics.JobsCompletedTotal.WithLabelValues(string(job.Operation), string(jobs.StateFailed)).Inc()
	}
	e.logger.WithFields(map[string]interface{}{
		"job_id": job.ID,
		"reason": reason,
	}).Warn("job failed")
}

// checkCanceled consults the advisory flag between units of work.
func (e *Executor) checkCanceled(ctx context.Context, jobID string) error {
	requested, err := e.store.IsCancelRequested(ctx, jobID)
	if err != nil {
		return err
	}
	if requested {
		return errCanceled
	}
	return nil
}
