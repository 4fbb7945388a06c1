package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/registrar/pkg/config"
	"github.com/platinummonkey/registrar/pkg/jobs"
	"github.com/platinummonkey/registrar/pkg/observability"
	"github.com/platinummonkey/registrar/pkg/results"
)

var (
	sweepSchedule = flag.String("sweep-schedule", "*/5 * * * *", "Cron schedule for sweeping abandoned jobs (default: every 5 minutes)")
	gcSchedule    = flag.String("gc-schedule", "30 3 * * *", "Cron schedule for orphaned artifact GC (default: 03:30 UTC)")
	abandonAfter  = flag.Duration("abandon-after", 30*time.Minute, "How long an IN_PROGRESS job may go without an update before it is considered abandoned")
	runOnce       = flag.Bool("run-once", false, "Run one sweep and GC pass, then exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	jobStore := jobs.NewSQLStore(db, logger, nil)

	var resultStore results.Store
	if cfg.Results.Backend == "s3" {
		resultStore, err = results.NewS3Store(ctx, cfg.Results)
	} else {
		resultStore, err = results.NewFilesystemStore(cfg.Results.FilesystemRoot)
	}
	if err != nil {
		logger.WithError(err).Error("failed to initialize result store")
		os.Exit(1)
	}

	reaper := &reaper{
		jobs:         jobStore,
		results:      resultStore,
		abandonAfter: *abandonAfter,
		logger:       logger,
	}

	if *runOnce {
		if err := reaper.sweepAbandoned(ctx); err != nil {
			logger.WithError(err).Error("sweep failed")
			os.Exit(1)
		}
		if err := reaper.collectOrphans(ctx); err != nil {
			logger.WithError(err).Error("artifact GC failed")
			os.Exit(1)
		}
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*sweepSchedule, func() {
		if err := reaper.sweepAbandoned(context.Background()); err != nil {
			logger.WithError(err).Error("sweep failed")
		}
	}); err != nil {
		logger.WithError(err).Error("failed to schedule sweep")
		os.Exit(1)
	}
	if _, err := c.AddFunc(*gcSchedule, func() {
		if err := reaper.collectOrphans(context.Background()); err != nil {
			logger.WithError(err).Error("artifact GC failed")
		}
	}); err != nil {
		logger.WithError(err).Error("failed to schedule artifact GC")
		os.Exit(1)
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"sweep_schedule": *sweepSchedule,
		"gc_schedule":    *gcSchedule,
	}).Info("registrar reaper started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	<-c.Stop().Done()
}

// reaper repairs the two kinds of debris a crashed process leaves
// behind: jobs stranded short of a terminal state (IN_PROGRESS under a
// dead worker, or PENDING rows whose in-memory queue entry died with
// the process) and result artifacts whose job row is gone.
type reaper struct {
	jobs         jobs.Store
	results      results.Store
	abandonAfter time.Duration
	logger       *observability.Logger
}

func (r *reaper) sweepAbandoned(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.abandonAfter)
	stuck, err := r.jobs.ListUnfinishedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stuck jobs: %w", err)
	}

	for _, job := range stuck {
		reason := fmt.Sprintf("abandoned: no progress since %s", job.UpdatedAt.UTC().Format(time.RFC3339))
		if err := r.jobs.Fail(ctx, job.ID, reason); err != nil {
			// Lost the race with a worker that finished after all
			r.logger.WithField("job_id", job.ID).WithError(err).Warn("failed to reap job")
			continue
		}
		r.logger.WithField("job_id", job.ID).Info("reaped abandoned job")
	}
	return nil
}

func (r *reaper) collectOrphans(ctx context.Context) error {
	refs, err := r.results.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}

	removed := 0
	for _, ref := range refs {
		jobID := results.JobIDFor(ref)
		if jobID == "" {
			continue
		}
		exists, err := r.jobs.JobExists(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to check job %s: %w", jobID, err)
		}
		if exists {
			continue
		}
		if err := r.results.Delete(ctx, ref); err != nil {
			r.logger.WithField("ref", string(ref)).WithError(err).Warn("failed to delete orphaned artifact")
			continue
		}
		removed++
	}
	if removed > 0 {
		r.logger.WithField("removed", removed).Info("collected orphaned artifacts")
	}
	return nil
}
