package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/registrar/pkg/enrollments"
	"github.com/platinummonkey/registrar/pkg/entities"
	"github.com/platinummonkey/registrar/pkg/jobs"
	"github.com/platinummonkey/registrar/pkg/rbac"
)

const reportFanOut = 4

// readRequest is the optional payload of a read-enrollments job.
type readRequest struct {
	Format string `json:"format"`
}

// writeArtifact is the JSON result of a write-enrollments job.
type writeArtifact struct {
	Good    bool                          `json:"good"`
	Bad     bool                          `json:"bad"`
	Results map[string]enrollments.Status `json:"results"`
}

// programReport is one program's slice of a report artifact.
type programReport struct {
	ProgramKey string         `json:"program_key"`
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
}

// reportArtifact is the JSON result of a generate-report job.
type reportArtifact struct {
	ScopeType        string          `json:"scope_type"`
	ScopeKey         string          `json:"scope_key"`
	GeneratedAt      time.Time       `json:"generated_at"`
	Programs         []programReport `json:"programs"`
	TotalEnrollments int             `json:"total_enrollments"`
}

func (e *Executor) execute(ctx context.Context, job *jobs.Job, payload []byte) ([]byte, string, error) {
	switch job.Operation {
	case jobs.OperationReadEnrollments:
		return e.readEnrollments(ctx, job, payload)
	case jobs.OperationWriteEnrollments:
		return e.writeEnrollments(ctx, job, payload)
	case jobs.OperationGenerateReport:
		return e.generateReport(ctx, job)
	}
	return nil, "", fmt.Errorf("unknown operation %q", job.Operation)
}

func (e *Executor) readEnrollments(ctx context.Context, job *jobs.Job, payload []byte) ([]byte, string, error) {
	format := "json"
	if len(payload) > 0 {
		var req readRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, "", fmt.Errorf("invalid payload: %w", err)
		}
		if req.Format != "" {
			format = req.Format
		}
	}

	if err := e.checkCanceled(ctx, job.ID); err != nil {
		return nil, "", err
	}

	all, err := e.provider.ListEnrollments(ctx, job.ScopeKey)
	if err != nil {
		return nil, "", err
	}

	switch format {
	case "json":
		data, err := json.Marshal(all)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode enrollments: %w", err)
		}
		return data, "application/json", nil
	case "csv":
		data, err := enrollments.MarshalCSV(all)
		if err != nil {
			return nil, "", err
		}
		return data, "text/csv", nil
	}
	return nil, "", fmt.Errorf("unsupported format %q", format)
}

func (e *Executor) writeEnrollments(ctx context.Context, job *jobs.Job, payload []byte) ([]byte, string, error) {
	var items []enrollments.Enrollment
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, "", fmt.Errorf("invalid payload: %w", err)
	}
	if len(items) == 0 {
		return nil, "", fmt.Errorf("invalid payload: empty enrollment list")
	}

	seen := make(map[string]int, len(items))
	for _, item := range items {
		seen[item.StudentKey]++
	}

	artifact := writeArtifact{Results: make(map[string]enrollments.Status, len(seen))}

	// Duplicates and unrequestable statuses are settled locally and
	// never forwarded; the rest starts as internal-error until the
	// provider reports on it.
	var pending []enrollments.Enrollment
	for _, item := range items {
		switch {
		case seen[item.StudentKey] > 1:
			artifact.Results[item.StudentKey] = enrollments.StatusDuplicated
			artifact.Bad = true
		case !enrollments.IsRequestable(item.Status):
			artifact.Results[item.StudentKey] = enrollments.StatusInvalid
			artifact.Bad = true
		default:
			artifact.Results[item.StudentKey] = enrollments.StatusInternalError
			pending = append(pending, item)
		}
	}

	for start := 0; start < len(pending); start += e.cfg.WriteBatchSize {
		if err := e.checkCanceled(ctx, job.ID); err != nil {
			return nil, "", err
		}

		end := start + e.cfg.WriteBatchSize
		if end > len(pending) {
			end = len(pending)
		}

		// A downstream failure aborts the whole job with no partial
		// artifact; per-item errors do not.
		result, err := e.provider.WriteEnrollments(ctx, job.ScopeKey, pending[start:end])
		if err != nil {
			return nil, "", err
		}

		artifact.Good = artifact.Good || result.Good
		artifact.Bad = artifact.Bad || result.Bad
		for key, status := range result.Statuses {
			artifact.Results[key] = status
		}
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode write result: %w", err)
	}
	return data, "application/json", nil
}

func (e *Executor) generateReport(ctx context.Context, job *jobs.Job) ([]byte, string, error) {
	var programs []*entities.Program
	var err error
	switch job.ScopeType {
	case rbac.ScopeOrganization:
		programs, err = e.entities.ListProgramsByOrganization(ctx, job.ScopeKey)
	case rbac.ScopeProgram:
		var program *entities.Program
		program, err = e.entities.GetProgramByKey(ctx, job.ScopeKey)
		if program != nil {
			programs = []*entities.Program{program}
		}
	default:
		err = fmt.Errorf("unsupported report scope %q", job.ScopeType)
	}
	if err != nil {
		return nil, "", err
	}

	if err := e.checkCanceled(ctx, job.ID); err != nil {
		return nil, "", err
	}

	reports := make([]programReport, len(programs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reportFanOut)
	for i, program := range programs {
		i, program := i, program
		g.Go(func() error {
			all, err := e.provider.ListEnrollments(gctx, program.Key)
			if err != nil {
				return err
			}
			report := programReport{
				ProgramKey: program.Key,
				Total:      len(all),
				ByStatus:   make(map[string]int),
			}
			for _, enrollment := range all {
				report.ByStatus[string(enrollment.Status)]++
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	artifact := reportArtifact{
		ScopeType:   string(job.ScopeType),
		ScopeKey:    job.ScopeKey,
		GeneratedAt: time.Now().UTC(),
		Programs:    reports,
	}
	for _, report := range reports {
		artifact.TotalEnrollments += report.Total
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode report: %w", err)
	}
	return data, "application/json", nil
}
