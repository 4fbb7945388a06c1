package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/registrar/pkg/api"
	"github.com/platinummonkey/registrar/pkg/audit"
	"github.com/platinummonkey/registrar/pkg/auth"
	"github.com/platinummonkey/registrar/pkg/config"
	"github.com/platinummonkey/registrar/pkg/enrollments"
	"github.com/platinummonkey/registrar/pkg/entities"
	"github.com/platinummonkey/registrar/pkg/executor"
	"github.com/platinummonkey/registrar/pkg/jobs"
	"github.com/platinummonkey/registrar/pkg/middleware"
	"github.com/platinummonkey/registrar/pkg/observability"
	"github.com/platinummonkey/registrar/pkg/rbac"
	"github.com/platinummonkey/registrar/pkg/results"
)

func main() {
	auditPath := flag.String("audit-log", os.Getenv("REGISTRAR_AUDIT_LOG"), "Audit log file path (empty for stdout)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	// A role that expands to an unmapped permission is a deploy-time
	// mistake, not a runtime one.
	if err := rbac.VerifyPermissionMapping(); err != nil {
		logger.WithError(err).Error("permission mapping is incomplete")
		os.Exit(1)
	}

	ctx := context.Background()

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			logger.WithError(err).Error("failed to initialize tracing")
			os.Exit(1)
		}
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	for name, migrate := range map[string]func(context.Context, *sql.DB) error{
		"entities": entities.Migrate,
		"auth":     auth.Migrate,
		"rbac":     rbac.Migrate,
		"jobs":     jobs.Migrate,
	} {
		if err := migrate(ctx, db); err != nil {
			logger.WithField("schema", name).WithError(err).Error("migration failed")
			os.Exit(1)
		}
	}

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	roles, err := loadRoles(cfg.Auth.RolesFile)
	if err != nil {
		logger.WithError(err).Error("failed to load role table")
		os.Exit(1)
	}

	entityStore := entities.NewSQLStore(db)
	grants := rbac.NewSQLGrantStore(db, roles)
	resolver := rbac.NewResolver(entityStore, grants, roles, logger, metrics)
	subjects := auth.NewSQLSubjectStore(db)

	recorder, auditFile, err := newRecorder(*auditPath)
	if err != nil {
		logger.WithError(err).Error("failed to open audit log")
		os.Exit(1)
	}

	resultStore, err := newResultStore(ctx, cfg.Results)
	if err != nil {
		logger.WithError(err).Error("failed to initialize result store")
		os.Exit(1)
	}

	provider := enrollments.NewClient(cfg.Provider, logger, metrics)
	details, err := newDetailsSource(provider, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize program details cache")
		os.Exit(1)
	}

	jobStore := jobs.NewSQLStore(db, logger, metrics)
	exec := executor.New(ctx, executor.Config{
		Workers:        cfg.Executor.Workers,
		JobTimeout:     cfg.Executor.JobTimeout,
		WriteBatchSize: cfg.Provider.WriteBatchSize,
	}, jobStore, resultStore, provider, entityStore, logger, metrics, recorder)

	registry := jobs.NewRegistry(jobStore, resolver, exec, logger, metrics, recorder)

	identity, err := newIdentity(ctx, cfg.Auth, subjects, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize identity verification")
		os.Exit(1)
	}

	server := api.NewServer(api.Options{
		Registry:    registry,
		Resolver:    resolver,
		EntityStore: entityStore,
		ResultStore: resultStore,
		Details:     details,
		Identity:    identity,
		RateLimit:   middleware.NewRateLimitMiddleware().Handler,
		Logger:      logger,
		Metrics:     metrics,
		Recorder:    recorder,
		PresignTTL:  cfg.Results.PresignTTL,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := startHealthServer(cfg.Server, db, promRegistry, logger)

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("executor", func(context.Context) error {
		return exec.Shutdown(cfg.Server.ShutdownTimeout)
	})
	shutdown.RegisterShutdownFunc("health server", func(shutdownCtx context.Context) error {
		return healthServer.Shutdown(shutdownCtx)
	})
	if closer, ok := details.(interface{ Close() error }); ok {
		shutdown.RegisterShutdownFunc("details cache", func(context.Context) error {
			return closer.Close()
		})
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc("tracing", func(shutdownCtx context.Context) error {
			return observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
		})
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return db.Close()
	})
	if auditFile != nil {
		shutdown.RegisterShutdownFunc("audit log", func(context.Context) error {
			return auditFile.Close()
		})
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("registrar API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}

func loadRoles(path string) (*rbac.RoleTable, error) {
	if path != "" {
		return rbac.LoadRoleTable(path)
	}
	return rbac.NewRoleTable(rbac.BuiltInRoles())
}

func newRecorder(path string) (audit.Recorder, *os.File, error) {
	if path == "" {
		return audit.NewWriterRecorder(os.Stdout), nil, nil
	}
	return audit.NewFileRecorder(path)
}

func newResultStore(ctx context.Context, cfg config.ResultsConfig) (results.Store, error) {
	if cfg.Backend == "s3" {
		return results.NewS3Store(ctx, cfg)
	}
	return results.NewFilesystemStore(cfg.FilesystemRoot)
}

// newDetailsSource wraps the provider client in the LRU/Redis cache
// when caching is enabled.
func newDetailsSource(provider *enrollments.Client, cfg *config.Config, logger *observability.Logger) (enrollments.DetailsFetcher, error) {
	if !cfg.Cache.Enabled {
		return provider, nil
	}
	return enrollments.NewDetailsCache(provider, cfg.Cache, logger)
}

func newIdentity(ctx context.Context, cfg config.AuthConfig, subjects auth.SubjectStore, logger *observability.Logger) (*middleware.IdentityMiddleware, error) {
	if cfg.Mode == "oidc" {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCAudience)
		if err != nil {
			return nil, err
		}
		return middleware.NewIdentityMiddleware(verifier, subjects, logger), nil
	}
	return middleware.NewIdentityMiddleware(nil, subjects, logger), nil
}

// startHealthServer serves liveness, readiness, and metrics on the
// separate health port so cluster probes never contend with API traffic.
func startHealthServer(cfg config.ServerConfig, db *sql.DB, registry *prometheus.Registry, logger *observability.Logger) *http.Server {
	checker := observability.NewHealthChecker(db, nil)

	mux := http.NewServeMux()
	observability.RegisterHealthRoutes(mux, checker)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:        cfg.Host + ":" + cfg.HealthPort,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		logger.WithField("addr", server.Addr).Info("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()
	return server
}
