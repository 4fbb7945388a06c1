package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal   *prometheus.CounterVec
	AuthzResolveDuration  prometheus.Histogram
	AuthzInvalidRoleTotal prometheus.Counter

	// Job metrics
	JobsSubmittedTotal  *prometheus.CounterVec
	JobsCompletedTotal  *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec
	JobsInProgress      prometheus.Gauge
	JobTransitionErrors prometheus.Counter

	// Enrollment provider metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	ProviderBatchesTotal    prometheus.Counter

	// Result store metrics
	ResultStoreOperationsTotal   *prometheus.CounterVec
	ResultStoreOperationDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registrar_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registrar_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registrar_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registrar_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registrar_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"action", "scope_type", "decision"},
		),
		AuthzResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "registrar_authz_resolve_duration_seconds",
				Help:    "Permission resolution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		AuthzInvalidRoleTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "registrar_authz_invalid_role_total",
				Help: "Total number of grants referencing undefined roles seen at resolve time",
			},
		),
		JobsSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registrar_jobs_submitted_total",
				Help: "Total number of jobs submitted",
			},
			[]string{"operation"},
		),
		JobsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registrar_jobs_completed_total",
				Help: "Total number of jobs reaching a terminal state",
			},
			[]string{"operation", "state"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registrar_job_duration_seconds",
				Help:    "Job execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"operation"},
		),
		JobsInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "registrar_jobs_in_progress",
				Help: "Number of jobs currently executing",
			},
		),
		JobTransitionErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "registrar_job_transition_errors_total",
				Help: "Total number of rejected job state transitions",
			},
		),
		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registrar_provider_requests_total",
				Help: "Total number of requests to the enrollment provider",
			},
			[]string{"method", "status"},
		),
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registrar_provider_request_duration_seconds",
				Help:    "Enrollment provider request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ProviderBatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "registrar_provider_batches_total",
				Help: "Total number of write batches sent to the enrollment provider",
			},
		),
		ResultStoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registrar_result_store_operations_total",
				Help: "Total number of result store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		ResultStoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registrar_result_store_operation_duration_seconds",
				Help:    "Result store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "registrar_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "registrar_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.AuthzDecisionsTotal,
		m.AuthzResolveDuration,
		m.AuthzInvalidRoleTotal,
		m.JobsSubmittedTotal,
		m.JobsCompletedTotal,
		m.JobDuration,
		m.JobsInProgress,
		m.JobTransitionErrors,
		m.ProviderRequestsTotal,
		m.ProviderRequestDuration,
		m.ProviderBatchesTotal,
		m.ResultStoreOperationsTotal,
		m.ResultStoreOperationDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// CollectDBStats copies database pool statistics into the gauges.
// Intended to be called periodically or on scrape.
func (m *Metrics) CollectDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
