// compliance_job.go defines the ComplianceJob and AssetRecord models produced
// by the ingestion pipeline. A job and its asset records are immutable once
// the job reaches a terminal status; re-ingestion always creates a new job.
package models

import "time"

// Job statuses. Running is the only non-terminal status.
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// ComplianceJob is one ingestion run over a submitted inventory spreadsheet.
type ComplianceJob struct {
	ID      string
	AuditID string

	// SourceHash is the SHA256 of the submitted file bytes; a second
	// submission with the same hash for the same audit is rejected.
	SourceHash     string
	SourceFilename string

	Status string
	// Error carries the diagnostic for failed jobs.
	Error *string

	// StrictMode excludes non-compliant rows from persisted output.
	StrictMode bool

	RowCount     int
	RejectedRows int

	Stats *JobStats

	StartedAt   time.Time
	CompletedAt *time.Time
	CreatedBy   *string
}

// IsTerminal reports whether the job can no longer change.
func (j *ComplianceJob) IsTerminal() bool {
	return j.Status != JobStatusRunning
}

// JobStats are the aggregate statistics of a completed job, stored as JSONB.
type JobStats struct {
	// ComplianceRate is the fraction of evaluated rows that passed every
	// component check, in [0,1].
	ComplianceRate float64 `json:"compliance_rate"`
	// ComponentPassRate is keyed by component name (cpu, ram, storage, os, network).
	ComponentPassRate map[string]float64 `json:"component_pass_rate"`
	// MeanQualityScore is the rounded arithmetic mean of persisted record scores.
	MeanQualityScore int `json:"mean_quality_score"`
	// UnresolvedColumns lists canonical fields no spreadsheet header matched.
	UnresolvedColumns []string `json:"unresolved_columns,omitempty"`
}

// AssetRecord is one normalized, evaluated inventory row (one device/user).
// Owned exclusively by its ComplianceJob and never mutated after creation.
type AssetRecord struct {
	ID    string
	JobID string
	Row   int

	Site       string
	EmployeeID string
	Hostname   string

	CPUBrand    string
	CPUModel    string
	CPUSpeedGHz float64

	RAMGB float64

	DiskType       string
	DiskCapacityGB float64

	OSName    string
	OSVersion string

	ISPName        string
	ConnectionType string
	DownloadMbps   float64
	UploadMbps     float64

	AntivirusInstalled bool
	AttentionType      string

	// ComponentCompliance maps component name → pass/fail.
	ComponentCompliance map[string]bool
	// FailureReasons maps component name → human-readable reason, only for
	// failing components.
	FailureReasons map[string]string

	OverallCompliant bool
	QualityScore     int

	CreatedAt time.Time
}
