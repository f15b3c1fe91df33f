// document_repository.go implements DocumentRepository, the read side of the
// portal's document-management tables. The workflow only ever reads section
// completeness here; uploads themselves are handled outside this service.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

// DocumentRepository reads document section state for the stage guards.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository creates a new DocumentRepository
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// ListSections returns all document sections for an audit.
func (r *DocumentRepository) ListSections(ctx context.Context, auditID string) ([]*models.DocumentSection, error) {
	query := `
		SELECT id, audit_id, section, is_mandatory, has_active_upload, updated_at
		FROM document_sections
		WHERE audit_id = $1
		ORDER BY section
	`

	sections := make([]*models.DocumentSection, 0)
	if err := r.db.SelectContext(ctx, &sections, query, auditID); err != nil {
		return nil, fmt.Errorf("failed to list document sections: %w", err)
	}
	return sections, nil
}
