package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/registrar/pkg/observability"
	"github.com/platinummonkey/registrar/pkg/results"
)

// Store persists jobs. All state changes go through guarded
// compare-and-set updates so two concurrent finalization attempts can
// never both succeed.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)

	// Start moves PENDING -> IN_PROGRESS.
	Start(ctx context.Context, id string) error

	// Succeed moves IN_PROGRESS -> SUCCEEDED and commits the result
	// ref in the same update.
	Succeed(ctx context.Context, id string, ref results.ResultRef) error

	// Fail moves IN_PROGRESS -> FAILED with a failure reason.
	Fail(ctx context.Context, id string, reason string) error

	// RequestCancel sets the advisory cancellation flag. Requesting
	// cancellation of a terminal job is a no-op.
	RequestCancel(ctx context.Context, id string) error

	// IsCancelRequested reads the advisory flag.
	IsCancelRequested(ctx context.Context, id string) (bool, error)

	// ListUnfinishedBefore returns non-terminal jobs last updated
	// before cutoff, for the abandonment sweeper. PENDING rows count:
	// a crash before a worker claims the job strands it there.
	ListUnfinishedBefore(ctx context.Context, cutoff time.Time) ([]*Job, error)

	// JobExists reports whether a job row exists, for the orphaned
	// artifact sweep.
	JobExists(ctx context.Context, id string) (bool, error)
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewSQLStore creates a job store. metrics may be nil.
func NewSQLStore(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *SQLStore {
	return &SQLStore{db: db, logger: logger, metrics: metrics}
}

func (s *SQLStore) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, subject_id, operation, scope_type, scope_key, state,
			result_ref, failure_reason, cancel_requested, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.SubjectID, job.Operation, job.ScopeType, job.ScopeKey, job.State,
		string(job.ResultRef), job.FailureReason, job.CancelRequested,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subject_id, operation, scope_type, scope_key, state,
			result_ref, failure_reason, cancel_requested, created_at, updated_at
		FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *SQLStore) Start(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatePending, StateInProgress,
		`UPDATE jobs SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4`)
}

func (s *SQLStore) Succeed(ctx context.Context, id string, ref results.ResultRef) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = $1, result_ref = $2, updated_at = $3
		WHERE id = $4 AND state = $5`,
		StateSucceeded, string(ref), now, id, StateInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize job: %w", err)
	}
	return s.checkTransition(ctx, res, id, string(StateInProgress), StateSucceeded)
}

// Fail finalizes from either non-terminal state. Failing straight from
// PENDING covers jobs the executor rejected at submit time and jobs a
// crash left unclaimed.
func (s *SQLStore) Fail(ctx context.Context, id string, reason string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = $1, failure_reason = $2, updated_at = $3
		WHERE id = $4 AND state IN ($5, $6)`,
		StateFailed, reason, now, id, StatePending, StateInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return s.checkTransition(ctx, res, id, "PENDING|IN_PROGRESS", StateFailed)
}

func (s *SQLStore) RequestCancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET cancel_requested = $1 WHERE id = $2`, true, id)
	if err != nil {
		return fmt.Errorf("failed to request cancellation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cancellation update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := s.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM jobs WHERE id = $1`, id).Scan(&requested)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancellation flag: %w", err)
	}
	return requested, nil
}

func (s *SQLStore) ListUnfinishedBefore(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, operation, scope_type, scope_key, state,
			result_ref, failure_reason, cancel_requested, created_at, updated_at
		FROM jobs WHERE state IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at`, StatePending, StateInProgress, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	defer rows.Close()

	var stale []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		stale = append(stale, job)
	}
	return stale, rows.Err()
}

func (s *SQLStore) JobExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = $1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check job existence: %w", err)
	}
	return true, nil
}

func (s *SQLStore) transition(ctx context.Context, id string, from, to State, query string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, query, to, now, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}
	return s.checkTransition(ctx, res, id, string(from), to)
}

// checkTransition turns a zero-row CAS update into ErrNotFound or
// ErrInvalidTransition, logging the latter as an invariant violation.
func (s *SQLStore) checkTransition(ctx context.Context, res sql.Result, id string, from string, to State) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition result: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current State
	err = s.db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = $1`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read job state: %w", err)
	}

	if s.metrics != nil {
		s.metrics.JobTransitionErrors.Inc()
	}
	s.logger.WithFields(map[string]interface{}{
		"job_id":   id,
		"expected": from,
		"current":  string(current),
		"target":   string(to),
	}).Error("rejected illegal job state transition")
	return fmt.Errorf("%w: %s -> %s blocked, job is %s", ErrInvalidTransition, from, to, current)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var resultRef string
	err := row.Scan(&job.ID, &job.SubjectID, &job.Operation, &job.ScopeType,
		&job.ScopeKey, &job.State, &resultRef, &job.FailureReason,
		&job.CancelRequested, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	job.ResultRef = results.ResultRef(resultRef)
	return &job, nil
}
