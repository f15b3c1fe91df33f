// job_repository.go implements JobRepository, providing database queries for
// compliance ingestion jobs and their asset records. Jobs transition
// running → completed/failed/cancelled exactly once; asset records are only
// ever written in the same transaction that completes their job.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

// JobRepository handles compliance job database operations
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new JobRepository
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id, audit_id, source_hash, source_filename, status, error, strict_mode,
	row_count, rejected_rows, stats, started_at, completed_at, created_by
`

// CreateJob inserts a new job in running status.
func (r *JobRepository) CreateJob(ctx context.Context, job *models.ComplianceJob) error {
	job.ID = uuid.New().String()
	job.Status = models.JobStatusRunning
	job.StartedAt = time.Now()

	query := `
		INSERT INTO compliance_jobs (id, audit_id, source_hash, source_filename, status, strict_mode, started_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.AuditID,
		job.SourceHash,
		job.SourceFilename,
		job.Status,
		job.StrictMode,
		job.StartedAt,
		job.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create compliance job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID. Returns (nil, nil) when not found.
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*models.ComplianceJob, error) {
	query := `SELECT ` + jobColumns + ` FROM compliance_jobs WHERE id = $1`
	return r.scanJob(r.db.QueryRowContext(ctx, query, jobID))
}

// ExistsLiveJob reports whether a running or completed job already exists for
// this audit and source-file hash. Failed and cancelled jobs do not count, so
// a submission that crashed can be retried with the same file.
func (r *JobRepository) ExistsLiveJob(ctx context.Context, auditID, sourceHash string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM compliance_jobs
		WHERE audit_id = $1 AND source_hash = $2 AND status IN ('running', 'completed')
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, auditID, sourceHash).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check for duplicate job: %w", err)
	}
	return count > 0, nil
}

// LatestCompletedJob returns the most recent completed job for an audit, or
// (nil, nil) when none exists. Consulted by the AutomaticValidation guard.
func (r *JobRepository) LatestCompletedJob(ctx context.Context, auditID string) (*models.ComplianceJob, error) {
	query := `
		SELECT ` + jobColumns + ` FROM compliance_jobs
		WHERE audit_id = $1 AND status = 'completed'
		ORDER BY completed_at DESC
		LIMIT 1
	`
	return r.scanJob(r.db.QueryRowContext(ctx, query, auditID))
}

// HasRunningJob reports whether the audit has an ingestion job in flight.
func (r *JobRepository) HasRunningJob(ctx context.Context, auditID string) (bool, error) {
	query := `SELECT COUNT(*) FROM compliance_jobs WHERE audit_id = $1 AND status = 'running'`

	var count int
	if err := r.db.QueryRowContext(ctx, query, auditID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check for running job: %w", err)
	}
	return count > 0, nil
}

// CompleteJob atomically persists the job's asset records and flips the job to
// completed with its final statistics. Cancelled jobs never reach here, so a
// cancelled job's partial records are simply discarded by the pipeline.
func (r *JobRepository) CompleteJob(ctx context.Context, job *models.ComplianceJob, records []*models.AssetRecord) error {
	statsJSON, err := json.Marshal(job.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal job stats: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	recordQuery := `
		INSERT INTO asset_records (
			id, job_id, row_number, site, employee_id, hostname,
			cpu_brand, cpu_model, cpu_speed_ghz, ram_gb,
			disk_type, disk_capacity_gb, os_name, os_version,
			isp_name, connection_type, download_mbps, upload_mbps,
			antivirus_installed, attention_type,
			component_compliance, failure_reasons, overall_compliant, quality_score
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		          $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`

	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		complianceJSON, err := json.Marshal(rec.ComponentCompliance)
		if err != nil {
			return fmt.Errorf("failed to marshal component compliance: %w", err)
		}
		reasonsJSON, err := json.Marshal(rec.FailureReasons)
		if err != nil {
			return fmt.Errorf("failed to marshal failure reasons: %w", err)
		}

		if _, err := tx.ExecContext(ctx, recordQuery,
			rec.ID, rec.JobID, rec.Row, rec.Site, rec.EmployeeID, rec.Hostname,
			rec.CPUBrand, rec.CPUModel, rec.CPUSpeedGHz, rec.RAMGB,
			rec.DiskType, rec.DiskCapacityGB, rec.OSName, rec.OSVersion,
			rec.ISPName, rec.ConnectionType, rec.DownloadMbps, rec.UploadMbps,
			rec.AntivirusInstalled, rec.AttentionType,
			complianceJSON, reasonsJSON, rec.OverallCompliant, rec.QualityScore,
		); err != nil {
			return fmt.Errorf("failed to insert asset record (row %d): %w", rec.Row, err)
		}
	}

	now := time.Now()
	jobQuery := `
		UPDATE compliance_jobs
		SET status = 'completed', stats = $2, row_count = $3, rejected_rows = $4, completed_at = $5
		WHERE id = $1 AND status = 'running'
	`
	result, err := tx.ExecContext(ctx, jobQuery, job.ID, statsJSON, job.RowCount, job.RejectedRows, now)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		// Job was cancelled (or otherwise finalized) while rows were being
		// processed; abort so no records are persisted for it.
		return fmt.Errorf("job %s is no longer running", job.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job completion: %w", err)
	}

	job.Status = models.JobStatusCompleted
	job.CompletedAt = &now
	return nil
}

// FailJob marks a running job failed with a diagnostic message.
func (r *JobRepository) FailJob(ctx context.Context, jobID, diagnostic string) error {
	query := `
		UPDATE compliance_jobs
		SET status = 'failed', error = $2, completed_at = NOW()
		WHERE id = $1 AND status = 'running'
	`
	if _, err := r.db.ExecContext(ctx, query, jobID, diagnostic); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// CancelJob marks a running job cancelled. Returns false when the job was not
// running (already terminal or unknown).
func (r *JobRepository) CancelJob(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE compliance_jobs
		SET status = 'cancelled', completed_at = NOW()
		WHERE id = $1 AND status = 'running'
	`
	result, err := r.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

// ListJobs retrieves jobs for an audit, newest first.
func (r *JobRepository) ListJobs(ctx context.Context, auditID string, limit, offset int) ([]*models.ComplianceJob, error) {
	query := `
		SELECT ` + jobColumns + ` FROM compliance_jobs
		WHERE audit_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, auditID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.ComplianceJob, 0)
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListAssetRecords retrieves the persisted records of a job in row order.
func (r *JobRepository) ListAssetRecords(ctx context.Context, jobID string) ([]*models.AssetRecord, error) {
	query := `
		SELECT id, job_id, row_number, site, employee_id, hostname,
		       cpu_brand, cpu_model, cpu_speed_ghz, ram_gb,
		       disk_type, disk_capacity_gb, os_name, os_version,
		       isp_name, connection_type, download_mbps, upload_mbps,
		       antivirus_installed, attention_type,
		       component_compliance, failure_reasons, overall_compliant, quality_score, created_at
		FROM asset_records
		WHERE job_id = $1
		ORDER BY row_number
	`

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list asset records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.AssetRecord, 0)
	for rows.Next() {
		rec := &models.AssetRecord{}
		var complianceJSON, reasonsJSON []byte

		if err := rows.Scan(
			&rec.ID, &rec.JobID, &rec.Row, &rec.Site, &rec.EmployeeID, &rec.Hostname,
			&rec.CPUBrand, &rec.CPUModel, &rec.CPUSpeedGHz, &rec.RAMGB,
			&rec.DiskType, &rec.DiskCapacityGB, &rec.OSName, &rec.OSVersion,
			&rec.ISPName, &rec.ConnectionType, &rec.DownloadMbps, &rec.UploadMbps,
			&rec.AntivirusInstalled, &rec.AttentionType,
			&complianceJSON, &reasonsJSON, &rec.OverallCompliant, &rec.QualityScore, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan asset record: %w", err)
		}

		if err := json.Unmarshal(complianceJSON, &rec.ComponentCompliance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal component compliance: %w", err)
		}
		if err := json.Unmarshal(reasonsJSON, &rec.FailureReasons); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failure reasons: %w", err)
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkStaleJobsFailed fails jobs that have been running longer than deadline.
// Used by the stale-job sweeper; returns how many jobs were swept.
func (r *JobRepository) MarkStaleJobsFailed(ctx context.Context, deadline time.Duration) (int64, error) {
	query := `
		UPDATE compliance_jobs
		SET status = 'failed', error = 'job exceeded processing deadline', completed_at = NOW()
		WHERE status = 'running' AND started_at < NOW() - $1::interval
	`

	result, err := r.db.ExecContext(ctx, query, fmt.Sprintf("%d seconds", int(deadline.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}
	return result.RowsAffected()
}

// scanner abstracts *sql.Row and *sql.Rows for scanJob.
type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *JobRepository) scanJob(row scanner) (*models.ComplianceJob, error) {
	job := &models.ComplianceJob{}
	var statsJSON []byte

	err := row.Scan(
		&job.ID,
		&job.AuditID,
		&job.SourceHash,
		&job.SourceFilename,
		&job.Status,
		&job.Error,
		&job.StrictMode,
		&job.RowCount,
		&job.RejectedRows,
		&statsJSON,
		&job.StartedAt,
		&job.CompletedAt,
		&job.CreatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan compliance job: %w", err)
	}

	if statsJSON != nil {
		if err := json.Unmarshal(statsJSON, &job.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job stats: %w", err)
		}
	}
	return job, nil
}
