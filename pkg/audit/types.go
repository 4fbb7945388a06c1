package audit

import "time"

// EventType categorizes an audit event.
type EventType string

const (
	// Authorization events
	EventTypeAuthzDecision EventType = "authz.decision"
	EventTypeGrantCreate   EventType = "authz.grant_create"
	EventTypeGrantRevoke   EventType = "authz.grant_revoke"

	// Job lifecycle events
	EventTypeJobSubmitted       EventType = "job.submitted"
	EventTypeJobStarted         EventType = "job.started"
	EventTypeJobSucceeded       EventType = "job.succeeded"
	EventTypeJobFailed          EventType = "job.failed"
	EventTypeJobCancelRequested EventType = "job.cancel_requested"
)

// Event is a single audit record, serialized as one JSON line.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SubjectID int64     `json:"subject_id,omitempty"`

	// Authorization fields
	Action    string `json:"action,omitempty"`
	ScopeType string `json:"scope_type,omitempty"`
	ScopeKey  string `json:"scope_key,omitempty"`
	Allowed   *bool  `json:"allowed,omitempty"`

	// Job fields
	JobID     string `json:"job_id,omitempty"`
	Operation string `json:"operation,omitempty"`

	Detail string `json:"detail,omitempty"`
}

// Bool is a convenience for filling Event.Allowed.
func Bool(v bool) *bool {
	return &v
}
