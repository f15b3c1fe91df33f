// threshold_repository.go implements ThresholdRepository for the named
// threshold profiles audits snapshot from. Profiles are seeded from the
// defaults file on startup and re-seeded when the file changes on disk;
// existing audits keep their frozen snapshots regardless.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

// ThresholdRepository handles threshold profile database operations.
type ThresholdRepository struct {
	db *sqlx.DB
}

// NewThresholdRepository creates a new ThresholdRepository
func NewThresholdRepository(db *sqlx.DB) *ThresholdRepository {
	return &ThresholdRepository{db: db}
}

// thresholdProfileRow mirrors the threshold_profiles table; rules stay raw
// JSONB until decoded into the typed ThresholdSet.
type thresholdProfileRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Rules     []byte    `db:"rules"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// UpsertProfile creates or replaces a named profile's rule set.
func (r *ThresholdRepository) UpsertProfile(ctx context.Context, name string, rules *models.ThresholdSet) error {
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to marshal threshold rules: %w", err)
	}

	query := `
		INSERT INTO threshold_profiles (id, name, rules)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET rules = EXCLUDED.rules, updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, uuid.New().String(), name, rulesJSON); err != nil {
		return fmt.Errorf("failed to upsert threshold profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by name. Returns (nil, nil) when not found.
func (r *ThresholdRepository) GetProfile(ctx context.Context, name string) (*models.ThresholdProfile, error) {
	query := `SELECT id, name, rules, created_at, updated_at FROM threshold_profiles WHERE name = $1`

	var row thresholdProfileRow
	err := r.db.GetContext(ctx, &row, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get threshold profile: %w", err)
	}

	profile := &models.ThresholdProfile{
		ID:        row.ID,
		Name:      row.Name,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Rules, &profile.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal threshold rules: %w", err)
	}
	return profile, nil
}

// ListProfileNames returns the names of all stored profiles.
func (r *ThresholdRepository) ListProfileNames(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	if err := r.db.SelectContext(ctx, &names, `SELECT name FROM threshold_profiles ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list threshold profiles: %w", err)
	}
	return names, nil
}
