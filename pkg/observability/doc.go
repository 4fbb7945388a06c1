// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging, metrics
// collection, health checks, and distributed tracing integration.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.LevelInfo)
//	logger.Info("Server started", "port", 8080)
//
// Context-aware logging:
//
//	logger.WithField("job_id", jobID).Error("Job execution failed", err)
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.InitMetrics()
//	metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/programs", "200").Inc()
//	metrics.AuthzDecisionsTotal.WithLabelValues("read_enrollments", "program", "allow").Inc()
//
// Job pipeline metrics:
//
//	metrics.JobsSubmittedTotal.WithLabelValues("write_enrollments").Inc()
//	metrics.JobsInProgress.Inc()
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck("result_store", store.Ping)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		ServiceName: "registrar-api",
//		Endpoint:    "otel-collector:4317",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/middleware: Request logging middleware
package observability
