package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/registrar/pkg/audit"
	"github.com/platinummonkey/registrar/pkg/enrollments"
	"github.com/platinummonkey/registrar/pkg/entities"
	"github.com/platinummonkey/registrar/pkg/httputil"
	"github.com/platinummonkey/registrar/pkg/jobs"
	"github.com/platinummonkey/registrar/pkg/middleware"
	"github.com/platinummonkey/registrar/pkg/observability"
	"github.com/platinummonkey/registrar/pkg/rbac"
	"github.com/platinummonkey/registrar/pkg/results"
)

// Options collects the collaborators the API server needs
type Options struct {
	Registry    *jobs.Registry
	Resolver    *rbac.Resolver
	EntityStore entities.Store
	ResultStore results.Store

	// Details is the optional provider-backed program details source
	// (cached). When nil the detail route serves the local record only.
	Details enrollments.DetailsFetcher

	// Identity resolves the calling subject on /api/v1 routes
	Identity *middleware.IdentityMiddleware
	// RateLimit is optional
	RateLimit func(http.Handler) http.Handler

	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Recorder audit.Recorder

	// PresignTTL bounds result download URLs when the result store can
	// sign them
	PresignTTL time.Duration
}

// Server exposes the registrar API over HTTP
type Server struct {
	router      *mux.Router
	registry    *jobs.Registry
	resolver    *rbac.Resolver
	entityStore entities.Store
	resultStore results.Store
	details     enrollments.DetailsFetcher
	logger      *observability.Logger
	recorder    audit.Recorder
	presignTTL  time.Duration
}

// NewServer creates a new API server and sets up its routes
func NewServer(opts Options) *Server {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	presignTTL := opts.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}

	s := &Server{
		router:      mux.NewRouter(),
		registry:    opts.Registry,
		resolver:    opts.Resolver,
		entityStore: opts.EntityStore,
		resultStore: opts.ResultStore,
		details:     opts.Details,
		logger:      opts.Logger,
		recorder:    recorder,
		presignTTL:  presignTTL,
	}
	s.setupRoutes(opts)
	return s
}

// Router returns the configured handler for mounting in an http.Server
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(opts Options) {
	s.router.Use(middleware.RequestID)
	s.router.Use(httputil.RecoveryMiddleware)
	if opts.Metrics != nil || opts.Logger != nil {
		s.router.Use(middleware.NewObserveMiddleware(opts.Logger, opts.Metrics).Handler)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(httputil.ContentTypeMiddleware)
	if opts.Identity != nil {
		api.Use(opts.Identity.Handler)
	}
	if opts.RateLimit != nil {
		api.Use(opts.RateLimit)
	}

	api.HandleFunc("/authorize", s.handleAuthorize).Methods("POST")
	api.HandleFunc("/programs", s.handleListPrograms).Methods("GET")
	api.HandleFunc("/programs/{key}", s.handleGetProgram).Methods("GET")

	api.HandleFunc("/programs/{key}/enrollments:read", s.submitJob(jobs.OperationReadEnrollments)).Methods("POST")
	api.HandleFunc("/programs/{key}/enrollments", s.submitJob(jobs.OperationWriteEnrollments)).Methods("POST")
	api.HandleFunc("/programs/{key}/reports", s.submitJob(jobs.OperationGenerateReport)).Methods("POST")

	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/cancel", s.handleCancelJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/result", s.handleGetResult).Methods("GET")
}
