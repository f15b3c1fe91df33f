// Package report assembles the final audit report artifact: a JSON document
// combining the audit's configuration, the latest compliance job statistics,
// and the auditor verdicts. The document is uploaded to storage and a
// report_artifacts row records the reference the ResultNotification guard
// checks.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/audit-portal/audit-portal/internal/db/models"
	"github.com/audit-portal/audit-portal/internal/storage"
)

// JobReader fetches the compliance job whose results the report summarizes.
type JobReader interface {
	LatestCompletedJob(ctx context.Context, auditID string) (*models.ComplianceJob, error)
}

// VerdictReader lists the auditor verdicts for an audit.
type VerdictReader interface {
	ListVerdicts(ctx context.Context, auditID string) ([]*models.ReviewVerdict, error)
}

// ArtifactWriter persists the generated artifact reference.
type ArtifactWriter interface {
	CreateReportArtifact(ctx context.Context, artifact *models.ReportArtifact) error
}

// Uploader stores the rendered report document.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte) (*storage.UploadResult, error)
}

// Generator implements workflow.ReportGenerator.
type Generator struct {
	jobs      JobReader
	verdicts  VerdictReader
	artifacts ArtifactWriter
	uploader  Uploader
	logger    *slog.Logger
}

// NewGenerator wires the report generator's collaborators.
func NewGenerator(jobs JobReader, verdicts VerdictReader, artifacts ArtifactWriter, uploader Uploader, logger *slog.Logger) *Generator {
	return &Generator{
		jobs:      jobs,
		verdicts:  verdicts,
		artifacts: artifacts,
		uploader:  uploader,
		logger:    logger,
	}
}

// document is the rendered report content. Field names are part of the stored
// artifact format.
type document struct {
	AuditID          string                 `json:"audit_id"`
	ProviderID       string                 `json:"provider_id"`
	AuditorID        string                 `json:"auditor_id"`
	ThresholdProfile string                 `json:"threshold_profile"`
	GeneratedAt      time.Time              `json:"generated_at"`
	ScheduledAt      *time.Time             `json:"scheduled_at,omitempty"`
	VisitAt          *time.Time             `json:"visit_at,omitempty"`
	Progress         map[string]interface{} `json:"progress,omitempty"`

	Inventory *inventorySummary `json:"inventory,omitempty"`
	Verdicts  []verdictSummary  `json:"verdicts"`
}

type inventorySummary struct {
	JobID            string           `json:"job_id"`
	SourceFilename   string           `json:"source_filename"`
	StrictMode       bool             `json:"strict_mode"`
	RowCount         int              `json:"row_count"`
	RejectedRows     int              `json:"rejected_rows"`
	Stats            *models.JobStats `json:"stats,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

type verdictSummary struct {
	Section  string  `json:"section"`
	Verdict  *string `json:"verdict"`
	Resolved bool    `json:"resolved"`
	Comment  *string `json:"comment,omitempty"`
}

// Generate renders, stores, and records the final report for an audit.
func (g *Generator) Generate(ctx context.Context, audit *models.Audit) (*models.ReportArtifact, error) {
	doc := document{
		AuditID:          audit.ID,
		ProviderID:       audit.ProviderID,
		AuditorID:        audit.AuditorID,
		ThresholdProfile: audit.ThresholdProfile,
		GeneratedAt:      time.Now().UTC(),
		ScheduledAt:      audit.ScheduledAt,
		VisitAt:          audit.VisitAt,
		Progress:         audit.Progress,
	}

	job, err := g.jobs.LatestCompletedJob(ctx, audit.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load compliance job for report: %w", err)
	}
	if job != nil {
		doc.Inventory = &inventorySummary{
			JobID:          job.ID,
			SourceFilename: job.SourceFilename,
			StrictMode:     job.StrictMode,
			RowCount:       job.RowCount,
			RejectedRows:   job.RejectedRows,
			Stats:          job.Stats,
			CompletedAt:    job.CompletedAt,
		}
	}

	verdicts, err := g.verdicts.ListVerdicts(ctx, audit.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load verdicts for report: %w", err)
	}
	doc.Verdicts = make([]verdictSummary, 0, len(verdicts))
	for _, v := range verdicts {
		doc.Verdicts = append(doc.Verdicts, verdictSummary{
			Section:  v.Section,
			Verdict:  v.Verdict,
			Resolved: v.Resolved,
			Comment:  v.Comment,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render report document: %w", err)
	}

	artifactID := uuid.New().String()
	path := storage.ReportPath(audit.ID, artifactID)

	result, err := g.uploader.Upload(ctx, path, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store report document: %w", err)
	}

	artifact := &models.ReportArtifact{
		ID:          artifactID,
		AuditID:     audit.ID,
		StoragePath: result.Path,
		Checksum:    result.Checksum,
		GeneratedAt: doc.GeneratedAt,
	}
	if err := g.artifacts.CreateReportArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to record report artifact: %w", err)
	}

	g.logger.Info("report artifact generated",
		"audit_id", audit.ID, "artifact_id", artifact.ID, "path", artifact.StoragePath)
	return artifact, nil
}
