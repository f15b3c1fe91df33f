// Package models defines the persistence structs shared by the repositories,
// the workflow orchestrator, and the ingestion pipeline. Structs here carry no
// behaviour beyond small derived accessors; all mutation goes through the
// repositories so invariants (stage monotonicity, job immutability) are
// enforced in one place.
package models

import "time"

// Audit represents one technical audit of a provider site as it moves through
// the eight-stage workflow. The thresholds snapshot is frozen at creation time
// so ingestion jobs started months into an audit are still evaluated against
// the rule set that was active when the audit was opened.
type Audit struct {
	ID         string
	ProviderID string
	AuditorID  string

	// Stage is the numeric workflow position (1–8). State is the canonical
	// name for that stage, stored denormalised for queryability; the workflow
	// package derives it from Stage and never lets the two drift.
	Stage int
	State string

	ScheduledAt *time.Time
	VisitAt     *time.Time

	// Thresholds is the compliance rule snapshot, immutable after creation.
	Thresholds *ThresholdSet
	// ThresholdProfile names the profile the snapshot was taken from.
	ThresholdProfile string

	// Progress is a free-form projection updated by automatic actions
	// (e.g. last job aggregate score, AI document score).
	Progress map[string]interface{}

	// Inventory file submitted during the InventoryUpload stage.
	InventoryPath     *string
	InventoryHash     *string
	InventoryFilename *string

	// Degraded is set when a transition's automatic actions partially failed.
	// The stage advance itself is never rolled back.
	Degraded bool

	ArchivedAt *time.Time
	CreatedBy  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsArchived reports whether the audit has been logically closed.
// Archived audits are never physically deleted.
func (a *Audit) IsArchived() bool {
	return a.ArchivedAt != nil
}

// HasInventory reports whether an inventory file has been submitted.
func (a *Audit) HasInventory() bool {
	return a.InventoryPath != nil && a.InventoryHash != nil
}
