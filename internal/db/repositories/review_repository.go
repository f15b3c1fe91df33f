// review_repository.go implements ReviewRepository, covering auditor verdicts
// (read by the AuditorReview guard) and report artifacts (written by the
// report-generation action, read by the ResultNotification guard).
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

// ReviewRepository handles verdict and report artifact database operations.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository creates a new ReviewRepository
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// ListVerdicts returns all evaluation-section verdict rows for an audit,
// including sections still awaiting a verdict (verdict IS NULL).
func (r *ReviewRepository) ListVerdicts(ctx context.Context, auditID string) ([]*models.ReviewVerdict, error) {
	query := `
		SELECT id, audit_id, section, verdict, resolved, auditor_id, comment, created_at
		FROM review_verdicts
		WHERE audit_id = $1
		ORDER BY section
	`

	verdicts := make([]*models.ReviewVerdict, 0)
	if err := r.db.SelectContext(ctx, &verdicts, query, auditID); err != nil {
		return nil, fmt.Errorf("failed to list review verdicts: %w", err)
	}
	return verdicts, nil
}

// CreateReportArtifact records a generated report artifact reference.
func (r *ReviewRepository) CreateReportArtifact(ctx context.Context, artifact *models.ReportArtifact) error {
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	if artifact.GeneratedAt.IsZero() {
		artifact.GeneratedAt = time.Now()
	}

	query := `
		INSERT INTO report_artifacts (id, audit_id, storage_path, checksum, generated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		artifact.ID, artifact.AuditID, artifact.StoragePath, artifact.Checksum, artifact.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to create report artifact: %w", err)
	}
	return nil
}

// LatestReportArtifact returns the newest report artifact for an audit, or
// (nil, nil) when none has been generated yet.
func (r *ReviewRepository) LatestReportArtifact(ctx context.Context, auditID string) (*models.ReportArtifact, error) {
	query := `
		SELECT id, audit_id, storage_path, checksum, generated_at
		FROM report_artifacts
		WHERE audit_id = $1
		ORDER BY generated_at DESC
		LIMIT 1
	`

	var artifact models.ReportArtifact
	err := r.db.GetContext(ctx, &artifact, query, auditID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report artifact: %w", err)
	}
	return &artifact, nil
}
