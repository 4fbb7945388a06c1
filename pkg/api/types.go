package api

import (
	"time"

	"github.com/platinummonkey/registrar/pkg/enrollments"
	"github.com/platinummonkey/registrar/pkg/jobs"
)

// AuthorizeRequest asks whether the calling subject may perform an
// action on a target scope.
type AuthorizeRequest struct {
	ScopeType string `json:"scope_type"`
	ScopeKey  string `json:"scope_key"`
	Action    string `json:"action"`
}

// AuthorizeResponse carries the decision and the full permission set
// the subject resolved to on the target.
type AuthorizeResponse struct {
	Allowed     bool     `json:"allowed"`
	Permissions []string `json:"permissions"`
}

// ProgramResponse is the API shape of a program listing entry
type ProgramResponse struct {
	ProgramKey  string `json:"program_key"`
	Title       string `json:"program_title"`
	URL         string `json:"program_url,omitempty"`
	ProgramType string `json:"program_type,omitempty"`
}

// ProgramDetailResponse pairs the local program record with the
// provider's view of it when available.
type ProgramDetailResponse struct {
	ProgramResponse
	Details *enrollments.ProgramDetails `json:"provider_details,omitempty"`
}

// JobResponse is the API shape of a job
type JobResponse struct {
	ID              string    `json:"job_id"`
	Operation       string    `json:"operation"`
	ScopeType       string    `json:"scope_type"`
	ScopeKey        string    `json:"scope_key"`
	State           string    `json:"state"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	CancelRequested bool      `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func jobResponse(job *jobs.Job) JobResponse {
	return JobResponse{
		ID:              job.ID,
		Operation:       string(job.Operation),
		ScopeType:       string(job.ScopeType),
		ScopeKey:        job.ScopeKey,
		State:           string(job.State),
		FailureReason:   job.FailureReason,
		CancelRequested: job.CancelRequested,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}
