package enrollments

// Status is a per-student enrollment status.
type Status string

const (
	StatusEnrolled  Status = "enrolled"
	StatusPending   Status = "pending"
	StatusSuspended Status = "suspended"
	StatusCanceled  Status = "canceled"
	StatusEnded     Status = "ended"

	// Outcome-only statuses reported inside write results, never
	// accepted as requested states.
	StatusDuplicated    Status = "duplicated"
	StatusInvalid       Status = "invalid-status"
	StatusConflict      Status = "conflict"
	StatusInternalError Status = "internal-error"
)

var requestableStatuses = map[Status]bool{
	StatusEnrolled:  true,
	StatusPending:   true,
	StatusSuspended: true,
	StatusCanceled:  true,
	StatusEnded:     true,
}

// IsRequestable reports whether s may appear in a write request.
func IsRequestable(s Status) bool {
	return requestableStatuses[s]
}

// Enrollment is a single learner's enrollment in a program.
type Enrollment struct {
	StudentKey string `json:"student_key"`
	Status     Status `json:"status"`
}

// WriteResult aggregates per-student outcomes of a batched write.
type WriteResult struct {
	// Good is true when at least one enrollment succeeded.
	Good bool
	// Bad is true when at least one enrollment failed.
	Bad bool
	// Statuses maps every requested student key to its outcome.
	Statuses map[string]Status
}

// ProgramDetails is the provider-side metadata for a program, cached
// by DetailsCache.
type ProgramDetails struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	ProgramType string `json:"program_type,omitempty"`
}
