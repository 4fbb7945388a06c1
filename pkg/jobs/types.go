package jobs

import (
	"errors"
	"time"

	"github.com/platinummonkey/registrar/pkg/rbac"
	"github.com/platinummonkey/registrar/pkg/results"
)

var (
	// ErrNotFound is returned when a job does not exist or is hidden
	// from the caller for tenant isolation.
	ErrNotFound = errors.New("job not found")

	// ErrUnauthorized is returned when the resolver denies the
	// operation at job creation time.
	ErrUnauthorized = errors.New("operation not authorized")

	// ErrInvalidTransition indicates an illegal state change attempt.
	// It is an internal invariant violation and is always logged.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Operation names the bulk work a job performs.
type Operation string

const (
	OperationReadEnrollments  Operation = "read_enrollments"
	OperationWriteEnrollments Operation = "write_enrollments"
	OperationGenerateReport   Operation = "generate_report"
)

// IsValid reports whether op is a known operation.
func (op Operation) IsValid() bool {
	switch op {
	case OperationReadEnrollments, OperationWriteEnrollments, OperationGenerateReport:
		return true
	}
	return false
}

// Job is a single asynchronous unit of work.
type Job struct {
	ID        string         `json:"id"`
	SubjectID int64          `json:"subject_id"`
	Operation Operation      `json:"operation"`
	ScopeType rbac.ScopeType `json:"scope_type"`
	ScopeKey  string         `json:"scope_key"`
	State     State          `json:"state"`

	// ResultRef is set in the same update that commits SUCCEEDED.
	ResultRef results.ResultRef `json:"result_ref,omitempty"`

	// FailureReason is set alongside FAILED.
	FailureReason string `json:"failure_reason,omitempty"`

	// CancelRequested is advisory; the executor checks it between
	// batches.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scope returns the job's target as an rbac scope.
func (j *Job) Scope() rbac.Scope {
	return rbac.Scope{Type: j.ScopeType, Key: j.ScopeKey}
}
