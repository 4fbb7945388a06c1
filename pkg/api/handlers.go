package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/platinummonkey/registrar/pkg/audit"
	"github.com/platinummonkey/registrar/pkg/auth"
	"github.com/platinummonkey/registrar/pkg/entities"
	"github.com/platinummonkey/registrar/pkg/httputil"
	"github.com/platinummonkey/registrar/pkg/jobs"
	"github.com/platinummonkey/registrar/pkg/middleware"
	"github.com/platinummonkey/registrar/pkg/rbac"
	"github.com/platinummonkey/registrar/pkg/results"
)

// maxWritePayload bounds enrollment upload bodies
const maxWritePayload = 4 << 20 // 4 MiB

func (s *Server) subject(w http.ResponseWriter, r *http.Request) (*auth.Subject, bool) {
	subject := middleware.GetSubject(r)
	if subject == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	return subject, true
}

var validActions = map[string]rbac.APIPermission{
	string(rbac.APIReadMetadata):     rbac.APIReadMetadata,
	string(rbac.APIReadEnrollments):  rbac.APIReadEnrollments,
	string(rbac.APIWriteEnrollments): rbac.APIWriteEnrollments,
	string(rbac.APIReadReports):      rbac.APIReadReports,
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}

	var req AuthorizeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var scopeType rbac.ScopeType
	switch req.ScopeType {
	case string(rbac.ScopeOrganization):
		scopeType = rbac.ScopeOrganization
	case string(rbac.ScopeProgram):
		scopeType = rbac.ScopeProgram
	default:
		httputil.WriteBadRequest(w, "scope_type must be organization or program")
		return
	}

	action, known := validActions[req.Action]
	if !known {
		httputil.WriteBadRequest(w, "unknown action: "+req.Action)
		return
	}

	target := rbac.Scope{Type: scopeType, Key: req.ScopeKey}
	perms, err := s.resolver.Resolve(r.Context(), subject.ID, target)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			httputil.WriteNotFoundError(w, "unknown "+req.ScopeType+": "+req.ScopeKey)
			return
		}
		s.logger.WithError(err).Error("authorization resolution failed")
		httputil.WriteInternalError(w, errors.New("authorization resolution failed"))
		return
	}

	allowed := perms.Has(action)
	s.recorder.Record(r.Context(), audit.Event{
		Type:      audit.EventTypeAuthzDecision,
		SubjectID: subject.ID,
		Action:    req.Action,
		ScopeType: req.ScopeType,
		ScopeKey:  req.ScopeKey,
		Allowed:   audit.Bool(allowed),
	})

	resp := AuthorizeResponse{Allowed: allowed, Permissions: []string{}}
	for _, p := range perms.List() {
		resp.Permissions = append(resp.Permissions, string(p))
	}
	httputil.WriteSuccess(w, resp)
}

func (s *Server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	authorized, err := s.resolver.ListAuthorizedScopes(ctx, subject.ID, rbac.APIReadMetadata, rbac.ScopeProgram)
	if err != nil {
		s.logger.WithError(err).Error("failed to list authorized programs")
		httputil.WriteInternalError(w, errors.New("failed to list programs"))
		return
	}
	authorizedSet := make(map[string]bool, len(authorized))
	for _, key := range authorized {
		authorizedSet[key] = true
	}

	var programs []*entities.Program
	if orgKey := r.URL.Query().Get("org"); orgKey != "" {
		if _, err := s.entityStore.GetOrganizationByKey(ctx, orgKey); err != nil {
			if errors.Is(err, entities.ErrNotFound) {
				httputil.WriteNotFoundError(w, "unknown organization: "+orgKey)
				return
			}
			s.logger.WithError(err).Error("failed to load organization")
			httputil.WriteInternalError(w, errors.New("failed to list programs"))
			return
		}
		programs, err = s.entityStore.ListProgramsByOrganization(ctx, orgKey)
		if err != nil {
			s.logger.WithError(err).Error("failed to list programs")
			httputil.WriteInternalError(w, errors.New("failed to list programs"))
			return
		}
	} else {
		for _, key := range authorized {
			program, err := s.entityStore.GetProgramByKey(ctx, key)
			if err != nil {
				if errors.Is(err, entities.ErrNotFound) {
					continue
				}
				s.logger.WithError(err).Error("failed to load program")
				httputil.WriteInternalError(w, errors.New("failed to list programs"))
				return
			}
			programs = append(programs, program)
		}
	}

	resp := []ProgramResponse{}
	for _, program := range programs {
		if !authorizedSet[program.Key] {
			continue
		}
		resp = append(resp, ProgramResponse{
			ProgramKey:  program.Key,
			Title:       program.Title,
			URL:         program.URL,
			ProgramType: program.ProgramType,
		})
	}
	httputil.WriteSuccess(w, resp)
}

func (s *Server) handleGetProgram(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}
	programKey, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}
	ctx := r.Context()

	target := rbac.Scope{Type: rbac.ScopeProgram, Key: programKey}
	allowed, err := s.resolver.HasPermission(ctx, subject.ID, target, rbac.APIReadMetadata)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			httputil.WriteNotFoundError(w, "unknown program: "+programKey)
			return
		}
		s.logger.WithError(err).Error("authorization resolution failed")
		httputil.WriteInternalError(w, errors.New("authorization resolution failed"))
		return
	}
	if !allowed {
		// Hide existence from unauthorized callers
		httputil.WriteNotFoundError(w, "unknown program: "+programKey)
		return
	}

	program, err := s.entityStore.GetProgramByKey(ctx, programKey)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			httputil.WriteNotFoundError(w, "unknown program: "+programKey)
			return
		}
		s.logger.WithError(err).Error("failed to load program")
		httputil.WriteInternalError(w, errors.New("failed to load program"))
		return
	}

	resp := ProgramDetailResponse{
		ProgramResponse: ProgramResponse{
			ProgramKey:  program.Key,
			Title:       program.Title,
			URL:         program.URL,
			ProgramType: program.ProgramType,
		},
	}
	if s.details != nil {
		details, err := s.details.GetProgramDetails(ctx, programKey)
		if err == nil {
			resp.Details = &details
		} else if !errors.Is(err, entities.ErrNotFound) {
			// Provider detail is best effort, the local record still serves
			s.logger.WithField("program", programKey).WithError(err).
				Warn("failed to fetch provider program details")
		}
	}
	httputil.WriteSuccess(w, resp)
}

// submitJob returns a handler that queues the given operation against
// the program in the path.
func (s *Server) submitJob(op jobs.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := s.subject(w, r)
		if !ok {
			return
		}
		programKey, ok := httputil.ParsePathStringOrError(w, r, "key")
		if !ok {
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWritePayload))
		if err != nil {
			httputil.WriteBadRequest(w, "failed to read request body")
			return
		}
		if op == jobs.OperationWriteEnrollments && len(payload) == 0 {
			httputil.WriteBadRequest(w, "enrollment write requires a request body")
			return
		}

		target := rbac.Scope{Type: rbac.ScopeProgram, Key: programKey}
		job, err := s.registry.Create(r.Context(), subject.ID, op, target, payload)
		if err != nil {
			s.writeJobError(w, err, programKey)
			return
		}

		httputil.WriteAccepted(w, jobResponse(job))
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}
	jobID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	job, err := s.registry.Get(r.Context(), subject.ID, jobID)
	if err != nil {
		s.writeJobError(w, err, jobID)
		return
	}
	httputil.WriteSuccess(w, jobResponse(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}
	jobID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.registry.RequestCancel(r.Context(), subject.ID, jobID); err != nil {
		s.writeJobError(w, err, jobID)
		return
	}
	httputil.WriteAccepted(w, map[string]string{"job_id": jobID, "status": "cancellation requested"})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.subject(w, r)
	if !ok {
		return
	}
	jobID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	job, err := s.registry.Get(r.Context(), subject.ID, jobID)
	if err != nil {
		s.writeJobError(w, err, jobID)
		return
	}

	switch job.State {
	case jobs.StateSucceeded:
		// fall through to the artifact below
	case jobs.StateFailed:
		httputil.WriteErrorMessage(w, http.StatusConflict, "job failed: "+job.FailureReason)
		return
	default:
		httputil.WriteErrorMessage(w, http.StatusConflict, "job has not finished")
		return
	}

	// A store that can sign URLs hands the download off to the backend
	if signer, ok := s.resultStore.(results.URLSigner); ok {
		url, err := signer.SignedURL(r.Context(), job.ResultRef, s.presignTTL)
		if err != nil {
			s.logger.WithField("job_id", job.ID).WithError(err).Error("failed to sign result URL")
			httputil.WriteInternalError(w, errors.New("failed to produce result URL"))
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	payload, contentType, err := s.resultStore.Get(r.Context(), job.ResultRef)
	if err != nil {
		s.logger.WithField("job_id", job.ID).WithError(err).Error("failed to fetch result artifact")
		httputil.WriteInternalError(w, errors.New("failed to fetch result"))
		return
	}

	// A write artifact carries per-item outcomes; mixed batches answer
	// 207 and all-rejected batches 422, mirroring the statuses the
	// provider itself speaks.
	if job.Operation == jobs.OperationWriteEnrollments {
		var outcome struct {
			Good bool `json:"good"`
			Bad  bool `json:"bad"`
		}
		if err := json.Unmarshal(payload, &outcome); err == nil && outcome.Bad {
			if outcome.Good {
				httputil.WriteMultiStatus(w, json.RawMessage(payload))
			} else {
				httputil.WriteUnprocessable(w, json.RawMessage(payload))
			}
			return
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// writeJobError maps registry errors onto HTTP statuses. Tenant
// isolation means an unauthorized poll reads as NotFound, never as
// confirmation the job exists.
func (s *Server) writeJobError(w http.ResponseWriter, err error, subjectOfError string) {
	switch {
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, entities.ErrNotFound):
		httputil.WriteNotFoundError(w, "not found: "+subjectOfError)
	case errors.Is(err, jobs.ErrUnauthorized):
		httputil.WriteErrorMessage(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, jobs.ErrInvalidTransition):
		httputil.WriteErrorMessage(w, http.StatusConflict, err.Error())
	default:
		s.logger.WithError(err).Error("request failed")
		httputil.WriteInternalError(w, errors.New("internal error"))
	}
}
