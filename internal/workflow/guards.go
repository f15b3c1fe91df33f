// guards.go holds one exit guard per workflow stage. A guard decides whether
// an audit currently sitting at that stage may advance to the next one; it
// never mutates anything. Guard rejections are expected, user-actionable
// outcomes, returned as values rather than errors.
package workflow

import (
	"context"
	"fmt"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

// GuardResult is the outcome of one guard evaluation. Produced fresh on every
// call and never persisted.
type GuardResult struct {
	Allowed bool `json:"allowed"`
	// Reason explains a rejection in user-facing terms.
	Reason string `json:"reason,omitempty"`
	// RequiredActions lists what the caller must do before retrying.
	RequiredActions []string `json:"required_actions,omitempty"`
}

func allowed() GuardResult {
	return GuardResult{Allowed: true}
}

func blocked(reason string, required ...string) GuardResult {
	return GuardResult{Reason: reason, RequiredActions: required}
}

// Collaborator read surfaces the guards consult.

// DocumentStore lists an audit's document sections.
type DocumentStore interface {
	ListSections(ctx context.Context, auditID string) ([]*models.DocumentSection, error)
}

// JobReader exposes the ingestion state the AutomaticValidation guard needs.
type JobReader interface {
	LatestCompletedJob(ctx context.Context, auditID string) (*models.ComplianceJob, error)
	HasRunningJob(ctx context.Context, auditID string) (bool, error)
}

// ReviewReader lists an audit's recorded verdicts.
type ReviewReader interface {
	ListVerdicts(ctx context.Context, auditID string) ([]*models.ReviewVerdict, error)
}

// ReportReader resolves the latest generated report artifact, (nil, nil) when
// none exists.
type ReportReader interface {
	LatestReportArtifact(ctx context.Context, auditID string) (*models.ReportArtifact, error)
}

// Guard decides whether an audit at its stage may advance. opts carries
// caller overrides (critical-verdict override for the review guard).
type Guard func(ctx context.Context, audit *models.Audit, opts AdvanceOptions) (GuardResult, error)

// GuardRegistry maps each stage to its exit guard.
type GuardRegistry struct {
	guards map[Stage]Guard
}

// NewGuardRegistry builds the registry with the standard guard per stage.
func NewGuardRegistry(documents DocumentStore, jobs JobReader, reviews ReviewReader, reports ReportReader) *GuardRegistry {
	r := &GuardRegistry{guards: make(map[Stage]Guard)}

	r.guards[StageConfiguration] = guardConfiguration
	r.guards[StageNotification] = guardAlwaysAllowed
	r.guards[StageOnsitePresentationUpload] = guardDocuments(documents)
	r.guards[StageInventoryUpload] = guardInventory
	r.guards[StageAutomaticValidation] = guardValidation(jobs)
	r.guards[StageAuditorReview] = guardReview(reviews)
	r.guards[StageResultNotification] = guardReport(reports)

	return r
}

// Evaluate runs the guard for the audit's current stage. A terminal stage has
// no guard; evaluation reports it as blocked.
func (r *GuardRegistry) Evaluate(ctx context.Context, audit *models.Audit, opts AdvanceOptions) (GuardResult, error) {
	stage := Stage(audit.Stage)
	if stage.Terminal() {
		return blocked("audit is completed and cannot advance further"), nil
	}
	guard, ok := r.guards[stage]
	if !ok {
		return GuardResult{}, fmt.Errorf("no guard registered for stage %d", audit.Stage)
	}
	return guard(ctx, audit, opts)
}

// Stage 1: the audit's configuration must be complete before work starts.
func guardConfiguration(_ context.Context, audit *models.Audit, _ AdvanceOptions) (GuardResult, error) {
	var missing []string
	if audit.ProviderID == "" {
		missing = append(missing, "assign a provider")
	}
	if audit.AuditorID == "" {
		missing = append(missing, "assign an auditor")
	}
	if audit.ScheduledAt == nil {
		missing = append(missing, "set the audit schedule")
	}
	if audit.Thresholds == nil {
		missing = append(missing, "select a threshold profile")
	}
	if len(missing) > 0 {
		return blocked("audit configuration is incomplete", missing...), nil
	}
	return allowed(), nil
}

// Stage 2 exists to run its automatic notification action; leaving it is
// always legal.
func guardAlwaysAllowed(_ context.Context, _ *models.Audit, _ AdvanceOptions) (GuardResult, error) {
	return allowed(), nil
}

// Stage 3: every mandatory document section needs at least one active upload.
func guardDocuments(documents DocumentStore) Guard {
	return func(ctx context.Context, audit *models.Audit, _ AdvanceOptions) (GuardResult, error) {
		sections, err := documents.ListSections(ctx, audit.ID)
		if err != nil {
			return GuardResult{}, fmt.Errorf("failed to list document sections: %w", err)
		}

		var pending []string
		for _, section := range sections {
			if section.IsMandatory && !section.HasActiveUpload {
				pending = append(pending, fmt.Sprintf("upload document section %q", section.Section))
			}
		}
		if len(pending) > 0 {
			return blocked("mandatory document sections are missing uploads", pending...), nil
		}
		return allowed(), nil
	}
}

// Stage 4: an inventory file must be on record. The file's format was
// validated at submission time, so its presence implies validity.
func guardInventory(_ context.Context, audit *models.Audit, _ AdvanceOptions) (GuardResult, error) {
	if !audit.HasInventory() {
		return blocked("no inventory file has been submitted", "upload the site inventory spreadsheet"), nil
	}
	return allowed(), nil
}

// Stage 5: a completed ingestion job must exist. A job still running blocks
// the advance rather than failing it.
func guardValidation(jobs JobReader) Guard {
	return func(ctx context.Context, audit *models.Audit, _ AdvanceOptions) (GuardResult, error) {
		job, err := jobs.LatestCompletedJob(ctx, audit.ID)
		if err != nil {
			return GuardResult{}, fmt.Errorf("failed to look up ingestion jobs: %w", err)
		}
		if job != nil {
			return allowed(), nil
		}

		running, err := jobs.HasRunningJob(ctx, audit.ID)
		if err != nil {
			return GuardResult{}, fmt.Errorf("failed to look up ingestion jobs: %w", err)
		}
		if running {
			return blocked("inventory validation is still running", "wait for the ingestion job to complete"), nil
		}
		return blocked("inventory has not been validated", "run inventory validation"), nil
	}
}

// Stage 6: every evaluation section needs a recorded verdict, and unresolved
// critical verdicts block unless the caller explicitly overrides.
func guardReview(reviews ReviewReader) Guard {
	return func(ctx context.Context, audit *models.Audit, opts AdvanceOptions) (GuardResult, error) {
		verdicts, err := reviews.ListVerdicts(ctx, audit.ID)
		if err != nil {
			return GuardResult{}, fmt.Errorf("failed to list review verdicts: %w", err)
		}

		var required []string
		criticals := 0
		for _, v := range verdicts {
			if v.Verdict == nil {
				required = append(required, fmt.Sprintf("record a verdict for section %q", v.Section))
				continue
			}
			if *v.Verdict == models.VerdictCritical && !v.Resolved {
				criticals++
				if !opts.OverrideCriticalVerdicts {
					required = append(required, fmt.Sprintf("resolve critical verdict on section %q", v.Section))
				}
			}
		}
		if len(required) > 0 {
			reason := "auditor review is incomplete"
			if criticals > 0 {
				reason = "unresolved critical verdicts remain"
			}
			return blocked(reason, required...), nil
		}
		return allowed(), nil
	}
}

// Stage 7: the final report artifact must have been produced.
func guardReport(reports ReportReader) Guard {
	return func(ctx context.Context, audit *models.Audit, _ AdvanceOptions) (GuardResult, error) {
		artifact, err := reports.LatestReportArtifact(ctx, audit.ID)
		if err != nil {
			return GuardResult{}, fmt.Errorf("failed to look up report artifact: %w", err)
		}
		if artifact == nil {
			return blocked("the final report has not been generated", "generate the audit report"), nil
		}
		return allowed(), nil
	}
}
