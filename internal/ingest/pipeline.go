// pipeline.go orchestrates one ingestion run: hash and duplicate-check the
// submitted file, create the job, then asynchronously parse, resolve columns,
// and sweep every row through normalize/evaluate/score before persisting the
// job atomically. Submission returns as soon as the job row exists; callers
// poll job status.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audit-portal/audit-portal/internal/db/models"
	"github.com/audit-portal/audit-portal/internal/safego"
	"github.com/audit-portal/audit-portal/internal/telemetry"
	"github.com/audit-portal/audit-portal/pkg/checksum"
)

// ErrDuplicateSubmission is returned when the same file bytes were already
// submitted for this audit. Distinct from generic failures so callers can
// branch on it.
var ErrDuplicateSubmission = errors.New("duplicate inventory submission")

// JobStore is the persistence surface the pipeline needs.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ComplianceJob) error
	ExistsLiveJob(ctx context.Context, auditID, sourceHash string) (bool, error)
	CompleteJob(ctx context.Context, job *models.ComplianceJob, records []*models.AssetRecord) error
	FailJob(ctx context.Context, jobID, diagnostic string) error
	CancelJob(ctx context.Context, jobID string) (bool, error)
	GetJob(ctx context.Context, jobID string) (*models.ComplianceJob, error)
}

// TrailRecorder receives the job-completed trail event. Best effort; the
// pipeline logs and continues when recording fails.
type TrailRecorder interface {
	Record(ctx context.Context, event *models.TrailEvent)
}

// SubmitOptions are the caller-supplied knobs of one submission.
type SubmitOptions struct {
	Filename string
	// StrictMode excludes non-compliant rows from persisted output. They are
	// still counted in the rejected-row statistic.
	StrictMode bool
	Actor      string
}

// Pipeline runs compliance ingestion jobs.
type Pipeline struct {
	jobs    JobStore
	trail   TrailRecorder
	logger  *slog.Logger
	workers int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewPipeline creates a Pipeline running up to workers row workers per job.
func NewPipeline(jobs JobStore, trail TrailRecorder, logger *slog.Logger, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		jobs:    jobs,
		trail:   trail,
		logger:  logger,
		workers: workers,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit registers a new ingestion job for the audit and starts processing it
// in the background. Returns ErrDuplicateSubmission when a running or
// completed job for the same audit and file bytes already exists.
func (p *Pipeline) Submit(ctx context.Context, audit *models.Audit, data []byte, opts SubmitOptions) (string, error) {
	hash := checksum.SHA256Bytes(data)

	exists, err := p.jobs.ExistsLiveJob(ctx, audit.ID, hash)
	if err != nil {
		return "", fmt.Errorf("failed to check for duplicate submission: %w", err)
	}
	if exists {
		return "", ErrDuplicateSubmission
	}

	job := &models.ComplianceJob{
		AuditID:        audit.ID,
		SourceHash:     hash,
		SourceFilename: opts.Filename,
		StrictMode:     opts.StrictMode,
	}
	if opts.Actor != "" {
		job.CreatedBy = &opts.Actor
	}
	if err := p.jobs.CreateJob(ctx, job); err != nil {
		return "", err
	}

	// The job outlives the request; it gets its own context so the caller
	// disconnecting does not cancel it.
	jobCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancels[job.ID] = cancel
	p.mu.Unlock()

	thresholds := audit.Thresholds
	safego.Go(func() {
		defer p.forget(job.ID)
		p.run(jobCtx, job, data, thresholds)
	})

	return job.ID, nil
}

// Cancel stops a running job. New rows stop being scheduled and any records
// already produced are discarded. Returns false when the job was not running.
func (p *Pipeline) Cancel(ctx context.Context, jobID string) (bool, error) {
	cancelled, err := p.jobs.CancelJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if cancelled {
		p.mu.Lock()
		if cancel, ok := p.cancels[jobID]; ok {
			cancel()
		}
		p.mu.Unlock()
	}
	return cancelled, nil
}

// GetJob returns the job's current state.
func (p *Pipeline) GetJob(ctx context.Context, jobID string) (*models.ComplianceJob, error) {
	return p.jobs.GetJob(ctx, jobID)
}

func (p *Pipeline) forget(jobID string) {
	p.mu.Lock()
	if cancel, ok := p.cancels[jobID]; ok {
		cancel()
		delete(p.cancels, jobID)
	}
	p.mu.Unlock()
}

func (p *Pipeline) run(ctx context.Context, job *models.ComplianceJob, data []byte, thresholds *models.ThresholdSet) {
	start := time.Now()
	telemetry.IngestionActiveJobs.Inc()
	defer telemetry.IngestionActiveJobs.Dec()

	logger := p.logger.With("job_id", job.ID, "audit_id", job.AuditID)

	status, err := p.process(ctx, job, data, thresholds, logger)
	telemetry.IngestionJobDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error("ingestion job did not complete", "status", status, "error", err)
		return
	}
	logger.Info("ingestion job finished", "status", status,
		"rows", job.RowCount, "rejected", job.RejectedRows, "duration", time.Since(start))
}

// process runs the job to a terminal status and returns that status.
func (p *Pipeline) process(ctx context.Context, job *models.ComplianceJob, data []byte, thresholds *models.ThresholdSet, logger *slog.Logger) (string, error) {
	headers, rows, err := ReadRows(data)
	if err != nil {
		return p.fail(job, fmt.Sprintf("unreadable inventory file: %v", err))
	}

	mapping := ResolveColumns(headers)
	if len(mapping.Columns) == 0 {
		return p.fail(job, "no recognizable columns in inventory file")
	}
	if len(mapping.Unresolved) > 0 {
		logger.Warn("some inventory columns did not resolve", "unresolved", mapping.Unresolved)
	}

	records := p.sweep(ctx, rows, mapping, thresholds)
	if ctx.Err() != nil {
		// Cancelled: the repository already flipped the status; partial
		// records are discarded here.
		return models.JobStatusCancelled, nil
	}

	job.RowCount = len(records)
	kept := records
	if job.StrictMode {
		kept = make([]*models.AssetRecord, 0, len(records))
		for _, rec := range records {
			if rec.OverallCompliant {
				kept = append(kept, rec)
			} else {
				job.RejectedRows++
			}
		}
	}
	for _, rec := range kept {
		rec.JobID = job.ID
	}
	job.Stats = buildStats(records, kept, mapping)

	for _, rec := range records {
		switch {
		case rec.OverallCompliant:
			telemetry.IngestionRowsTotal.WithLabelValues("compliant").Inc()
		case job.StrictMode:
			telemetry.IngestionRowsTotal.WithLabelValues("rejected").Inc()
		default:
			telemetry.IngestionRowsTotal.WithLabelValues("non_compliant").Inc()
		}
	}

	if err := p.jobs.CompleteJob(ctx, job, kept); err != nil {
		return models.JobStatusFailed, err
	}

	if p.trail != nil {
		p.trail.Record(context.Background(), &models.TrailEvent{
			AuditID: job.AuditID,
			Type:    models.TrailEventJobCompleted,
			Metadata: map[string]interface{}{
				"job_id":          job.ID,
				"row_count":       job.RowCount,
				"rejected_rows":   job.RejectedRows,
				"compliance_rate": job.Stats.ComplianceRate,
			},
		})
	}
	return models.JobStatusCompleted, nil
}

func (p *Pipeline) fail(job *models.ComplianceJob, diagnostic string) (string, error) {
	if err := p.jobs.FailJob(context.Background(), job.ID, diagnostic); err != nil {
		return models.JobStatusFailed, err
	}
	return models.JobStatusFailed, fmt.Errorf("%s", diagnostic)
}

// sweep normalizes, evaluates, and scores every row across the worker pool.
// Row order is preserved in the returned slice. Returns early (with a partial
// slice) when ctx is cancelled; callers must check ctx.Err.
func (p *Pipeline) sweep(ctx context.Context, rows [][]string, mapping *ColumnMapping, thresholds *models.ThresholdSet) []*models.AssetRecord {
	type indexed struct {
		idx int
		row []string
	}

	work := make(chan indexed)
	results := make([]*models.AssetRecord, len(rows))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				rec := buildRecord(item.row, mapping)
				Evaluate(rec, thresholds)
				rec.QualityScore = Score(rec)
				rec.Row = item.idx + 1
				results[item.idx] = rec
			}
		}()
	}

feed:
	for i, row := range rows {
		select {
		case <-ctx.Done():
			break feed
		case work <- indexed{idx: i, row: row}:
		}
	}
	close(work)
	wg.Wait()

	records := make([]*models.AssetRecord, 0, len(results))
	for _, rec := range results {
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records
}

// buildRecord normalizes one raw row into a typed AssetRecord. Unbound fields
// default to the unknown sentinel or zero.
func buildRecord(row []string, mapping *ColumnMapping) *models.AssetRecord {
	cell := func(field string) string {
		if idx, ok := mapping.Columns[field]; ok && idx < len(row) {
			return row[idx]
		}
		return ""
	}

	return &models.AssetRecord{
		Site:       NormalizeText(cell(FieldSite)),
		EmployeeID: NormalizeText(cell(FieldEmployeeID)),
		Hostname:   NormalizeText(cell(FieldHostname)),

		CPUBrand:    NormalizeCPUBrand(cell(FieldCPUBrand)),
		CPUModel:    NormalizeText(cell(FieldCPUModel)),
		CPUSpeedGHz: NormalizeCPUSpeedGHz(cell(FieldCPUSpeedGHz)),

		RAMGB: NormalizeRAMGB(cell(FieldRAMGB)),

		DiskType:       NormalizeDiskType(cell(FieldDiskType)),
		DiskCapacityGB: NormalizeDiskCapacityGB(cell(FieldDiskCapacityGB)),

		OSName:    NormalizeOSName(cell(FieldOSName)),
		OSVersion: NormalizeOSVersion(cell(FieldOSVersion)),

		ISPName:        NormalizeText(cell(FieldISPName)),
		ConnectionType: NormalizeText(cell(FieldConnectionType)),
		DownloadMbps:   NormalizeLinkSpeedMbps(cell(FieldDownloadMbps)),
		UploadMbps:     NormalizeLinkSpeedMbps(cell(FieldUploadMbps)),

		AntivirusInstalled: NormalizeBool(cell(FieldAntivirus)),
		AttentionType:      NormalizeAttentionType(cell(FieldAttentionType)),
	}
}

// buildStats aggregates job statistics over all evaluated records. Pass rates
// are computed over every evaluated row; the mean quality score covers only
// the persisted records, matching what consumers of the job can see.
func buildStats(evaluated, kept []*models.AssetRecord, mapping *ColumnMapping) *models.JobStats {
	stats := &models.JobStats{
		ComponentPassRate: make(map[string]float64, len(ComponentNames)),
		UnresolvedColumns: mapping.Unresolved,
		MeanQualityScore:  AggregateScore(kept),
	}
	if len(evaluated) == 0 {
		return stats
	}

	compliant := 0
	passes := make(map[string]int, len(ComponentNames))
	for _, rec := range evaluated {
		if rec.OverallCompliant {
			compliant++
		}
		for name, pass := range rec.ComponentCompliance {
			if pass {
				passes[name]++
			}
		}
	}

	stats.ComplianceRate = float64(compliant) / float64(len(evaluated))
	for _, name := range ComponentNames {
		stats.ComponentPassRate[name] = float64(passes[name]) / float64(len(evaluated))
	}
	return stats
}
