// review.go defines the collaborator-facing models the stage guards read:
// document sections (guard for leaving OnsitePresentationUpload), auditor
// verdicts (guard for leaving AuditorReview), and report artifacts (guard for
// leaving ResultNotification). These tables are written by portal components
// outside this service; the workflow mostly consumes them.
package models

import "time"

// DocumentSection is one required document slot for an audit.
type DocumentSection struct {
	ID              string    `json:"id" db:"id"`
	AuditID         string    `json:"audit_id" db:"audit_id"`
	Section         string    `json:"section" db:"section"`
	IsMandatory     bool      `json:"is_mandatory" db:"is_mandatory"`
	HasActiveUpload bool      `json:"has_active_upload" db:"has_active_upload"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Verdict severities an auditor can record on an evaluation section.
const (
	VerdictApproved = "approved"
	VerdictObserved = "observed"
	VerdictCritical = "critical"
)

// ReviewVerdict is an auditor's recorded verdict on one evaluation section.
// Verdict is NULL (nil) while the section is still awaiting review.
type ReviewVerdict struct {
	ID        string    `json:"id" db:"id"`
	AuditID   string    `json:"audit_id" db:"audit_id"`
	Section   string    `json:"section" db:"section"`
	Verdict   *string   `json:"verdict" db:"verdict"`
	Resolved  bool      `json:"resolved" db:"resolved"`
	AuditorID *string   `json:"auditor_id,omitempty" db:"auditor_id"`
	Comment   *string   `json:"comment,omitempty" db:"comment"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ReportArtifact is a generated final-report artifact reference.
type ReportArtifact struct {
	ID          string    `json:"id" db:"id"`
	AuditID     string    `json:"audit_id" db:"audit_id"`
	StoragePath string    `json:"storage_path" db:"storage_path"`
	Checksum    string    `json:"checksum" db:"checksum"`
	GeneratedAt time.Time `json:"generated_at" db:"generated_at"`
}
