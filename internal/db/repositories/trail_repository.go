// trail_repository.go implements TrailRepository, the append-only store behind
// the audit trail recorder. Entries are never updated or deleted.
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

// TrailRepository handles audit-trail database operations
type TrailRepository struct {
	db *sql.DB
}

// NewTrailRepository creates a new TrailRepository
func NewTrailRepository(db *sql.DB) *TrailRepository {
	return &TrailRepository{db: db}
}

// CreateEvent appends one trail event.
func (r *TrailRepository) CreateEvent(ctx context.Context, event *models.TrailEvent) error {
	event.ID = uuid.New().String()
	event.CreatedAt = time.Now()

	var metadataJSON []byte
	var err error
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal trail metadata: %w", err)
		}
	}

	query := `
		INSERT INTO trail_events (id, audit_id, type, before, after, actor, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.AuditID,
		event.Type,
		event.Before,
		event.After,
		event.Actor,
		metadataJSON,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create trail event: %w", err)
	}
	return nil
}

// ListEvents retrieves trail events for an audit, newest first, with a total
// count for pagination.
func (r *TrailRepository) ListEvents(ctx context.Context, auditID string, limit, offset int) ([]*models.TrailEvent, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM trail_events WHERE audit_id = $1`
	if err := r.db.QueryRowContext(ctx, countQuery, auditID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count trail events: %w", err)
	}

	query := `
		SELECT id, audit_id, type, before, after, actor, metadata, created_at
		FROM trail_events
		WHERE audit_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, auditID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list trail events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.TrailEvent, 0)
	for rows.Next() {
		event := &models.TrailEvent{}
		var metadataJSON []byte

		if err := rows.Scan(
			&event.ID,
			&event.AuditID,
			&event.Type,
			&event.Before,
			&event.After,
			&event.Actor,
			&metadataJSON,
			&event.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan trail event: %w", err)
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal trail metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, total, rows.Err()
}
