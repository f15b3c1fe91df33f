// trail_event.go defines the TrailEvent model for the audit trail: an
// append-only record of workflow transitions, ingestion completions, and
// archival, separate from application logs because it has different consumers
// and retention requirements.
package models

import "time"

// Trail event types.
const (
	TrailEventTransition   = "workflow.transition"
	TrailEventJobCompleted = "ingestion.job_completed"
	TrailEventArchived     = "audit.archived"
)

// TrailEvent is one append-only audit-trail entry.
type TrailEvent struct {
	ID      string
	AuditID string
	Type    string

	// Before and After describe the state change, e.g. stage names for a
	// transition. Free-form strings so non-transition events can reuse them.
	Before *string
	After  *string

	Actor *string

	// Metadata holds event-specific context (action log, job stats) as JSONB.
	Metadata map[string]interface{}

	CreatedAt time.Time
}
