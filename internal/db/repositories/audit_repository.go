// audit_repository.go implements AuditRepository, providing database queries
// for creating audits, reading workflow state, and the optimistic stage
// compare-and-swap the orchestrator relies on to serialize transitions.
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

// AuditRepository handles audit database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `
	id, provider_id, auditor_id, stage, state, scheduled_at, visit_at,
	thresholds, threshold_profile, progress,
	inventory_path, inventory_hash, inventory_filename,
	degraded, archived_at, created_by, created_at, updated_at
`

// CreateAudit inserts a new audit at stage 1 with its thresholds snapshot.
func (r *AuditRepository) CreateAudit(ctx context.Context, audit *models.Audit) error {
	audit.ID = uuid.New().String()
	audit.CreatedAt = time.Now()
	audit.UpdatedAt = audit.CreatedAt

	thresholdsJSON, err := json.Marshal(audit.Thresholds)
	if err != nil {
		return fmt.Errorf("failed to marshal thresholds snapshot: %w", err)
	}

	progress := audit.Progress
	if progress == nil {
		progress = map[string]interface{}{}
	}
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	query := `
		INSERT INTO audits (id, provider_id, auditor_id, stage, state, scheduled_at, visit_at,
		                    thresholds, threshold_profile, progress, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		audit.ID,
		audit.ProviderID,
		audit.AuditorID,
		audit.Stage,
		audit.State,
		audit.ScheduledAt,
		audit.VisitAt,
		thresholdsJSON,
		audit.ThresholdProfile,
		progressJSON,
		audit.CreatedBy,
		audit.CreatedAt,
		audit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit: %w", err)
	}

	return nil
}

// GetAudit retrieves an audit by ID. Returns (nil, nil) when not found.
func (r *AuditRepository) GetAudit(ctx context.Context, auditID string) (*models.Audit, error) {
	query := `SELECT ` + auditColumns + ` FROM audits WHERE id = $1`

	audit := &models.Audit{}
	var thresholdsJSON, progressJSON []byte

	err := r.db.QueryRowContext(ctx, query, auditID).Scan(
		&audit.ID,
		&audit.ProviderID,
		&audit.AuditorID,
		&audit.Stage,
		&audit.State,
		&audit.ScheduledAt,
		&audit.VisitAt,
		&thresholdsJSON,
		&audit.ThresholdProfile,
		&progressJSON,
		&audit.InventoryPath,
		&audit.InventoryHash,
		&audit.InventoryFilename,
		&audit.Degraded,
		&audit.ArchivedAt,
		&audit.CreatedBy,
		&audit.CreatedAt,
		&audit.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit: %w", err)
	}

	if err := json.Unmarshal(thresholdsJSON, &audit.Thresholds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thresholds snapshot: %w", err)
	}
	if err := json.Unmarshal(progressJSON, &audit.Progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}

	return audit, nil
}

// AdvanceStage performs the optimistic stage compare-and-swap: the stage is
// incremented by exactly one only when the stored stage still equals
// fromStage and the audit is not archived. Returns false when the check
// fails, which the orchestrator surfaces as a retryable stale-stage error.
// The degraded flag is cleared on every successful advance; the action
// executor re-sets it if the new stage's automatic actions partially fail.
func (r *AuditRepository) AdvanceStage(ctx context.Context, auditID string, fromStage int, toState string) (bool, error) {
	query := `
		UPDATE audits
		SET stage = stage + 1, state = $3, degraded = FALSE, updated_at = NOW()
		WHERE id = $1 AND stage = $2 AND archived_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, auditID, fromStage, toState)
	if err != nil {
		return false, fmt.Errorf("failed to advance stage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

// SetInventory records the submitted inventory file on the audit.
func (r *AuditRepository) SetInventory(ctx context.Context, auditID, path, hash, filename string) error {
	query := `
		UPDATE audits
		SET inventory_path = $2, inventory_hash = $3, inventory_filename = $4, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, auditID, path, hash, filename); err != nil {
		return fmt.Errorf("failed to set inventory file: %w", err)
	}
	return nil
}

// MergeProgress merges the supplied keys into the audit's progress projection.
func (r *AuditRepository) MergeProgress(ctx context.Context, auditID string, delta map[string]interface{}) error {
	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("failed to marshal progress delta: %w", err)
	}

	query := `UPDATE audits SET progress = progress || $2::jsonb, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, auditID, deltaJSON); err != nil {
		return fmt.Errorf("failed to merge progress: %w", err)
	}
	return nil
}

// SetDegraded flags a transition whose automatic actions partially failed.
func (r *AuditRepository) SetDegraded(ctx context.Context, auditID string, degraded bool) error {
	query := `UPDATE audits SET degraded = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, auditID, degraded); err != nil {
		return fmt.Errorf("failed to set degraded flag: %w", err)
	}
	return nil
}

// Archive logically closes an audit. Idempotent: a second call leaves the
// original archive timestamp intact.
func (r *AuditRepository) Archive(ctx context.Context, auditID string) error {
	query := `UPDATE audits SET archived_at = NOW(), updated_at = NOW() WHERE id = $1 AND archived_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, auditID); err != nil {
		return fmt.Errorf("failed to archive audit: %w", err)
	}
	return nil
}
