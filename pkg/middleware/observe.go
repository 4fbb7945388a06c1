package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/registrar/pkg/contextkeys"
	"github.com/platinummonkey/registrar/pkg/observability"
)

// statusRecorder captures the response status and size for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// ObserveMiddleware logs every request and records HTTP metrics. Metric
// path labels use the mux route template so path parameters do not
// explode cardinality.
type ObserveMiddleware struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

func NewObserveMiddleware(logger *observability.Logger, metrics *observability.Metrics) *ObserveMiddleware {
	return &ObserveMiddleware{logger: logger, metrics: metrics}
}

// Handler wraps an HTTP handler with logging and metrics
func (m *ObserveMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		requestLogger := m.logger.WithFields(map[string]interface{}{
			"request_id": contextkeys.GetRequestID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		ctx := contextkeys.WithLogger(r.Context(), requestLogger)
		next.ServeHTTP(recorder, r.WithContext(ctx))

		elapsed := time.Since(start)
		if m.metrics != nil {
			path := routeTemplate(r)
			m.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.status)).Inc()
			m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())
			m.metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(recorder.bytes))
			if r.ContentLength > 0 {
				m.metrics.HTTPRequestSize.WithLabelValues(r.Method, path).Observe(float64(r.ContentLength))
			}
		}

		requestLogger.WithFields(map[string]interface{}{
			"status":      recorder.status,
			"duration_ms": elapsed.Milliseconds(),
			"bytes":       recorder.bytes,
		}).Info("request handled")
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return "unmatched"
}
