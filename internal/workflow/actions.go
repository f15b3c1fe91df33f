// actions.go runs the automatic side-effecting actions owned by the stages
// flagged automatic. Actions run strictly in order with a per-action timeout.
// A failure is recorded and the sequence continues, except for blocking
// actions, whose failure aborts the rest of the sequence and flags the
// transition degraded. The stage advance itself is never rolled back.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/audit-portal/audit-portal/internal/db/models"
	"github.com/audit-portal/audit-portal/internal/ingest"
	"github.com/audit-portal/audit-portal/internal/telemetry"
)

// Action outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// ActionLogEntry records one attempted automatic action. The transition's
// full list is attached to its audit-trail event.
type ActionLogEntry struct {
	Action  string `json:"action"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Notification templates sent by the automatic stages.
const (
	TemplateAuditScheduled = "audit_scheduled"
	TemplateAuditResult    = "audit_result"
)

// NotificationSender delivers a templated notification about an audit.
type NotificationSender interface {
	Send(ctx context.Context, audit *models.Audit, template string) error
}

// DocumentScorer runs the external AI scoring model over an audit's uploaded
// documents.
type DocumentScorer interface {
	Score(ctx context.Context, auditID string) (float64, map[string]interface{}, error)
}

// ReportGenerator produces the final report artifact for an audit.
type ReportGenerator interface {
	Generate(ctx context.Context, audit *models.Audit) (*models.ReportArtifact, error)
}

// InventoryFetcher retrieves the stored inventory file bytes.
type InventoryFetcher interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// IngestionSubmitter starts a compliance ingestion job.
type IngestionSubmitter interface {
	Submit(ctx context.Context, audit *models.Audit, data []byte, opts ingest.SubmitOptions) (string, error)
}

// Archiver logically closes an audit.
type Archiver interface {
	Archive(ctx context.Context, auditID string) error
}

// ProgressWriter merges keys into the audit's progress projection.
type ProgressWriter interface {
	MergeProgress(ctx context.Context, auditID string, delta map[string]interface{}) error
}

// action is one entry in a stage's ordered action list.
type action struct {
	name     string
	blocking bool
	run      func(ctx context.Context, audit *models.Audit) error
}

// Executor owns the per-stage automatic action lists.
type Executor struct {
	actions map[Stage][]action
	timeout time.Duration
	logger  *slog.Logger
}

// ExecutorDeps are the collaborators the automatic actions call out to.
type ExecutorDeps struct {
	Notifier NotificationSender
	Scorer   DocumentScorer
	Reports  ReportGenerator
	Storage  InventoryFetcher
	Pipeline IngestionSubmitter
	Archiver Archiver
	Progress ProgressWriter
}

// NewExecutor builds the executor with the standard action sequence per
// automatic stage. actionTimeout bounds each external call; a hung
// collaborator becomes a failed action instead of blocking the orchestrator.
func NewExecutor(deps ExecutorDeps, actionTimeout time.Duration, logger *slog.Logger) *Executor {
	if actionTimeout <= 0 {
		actionTimeout = 30 * time.Second
	}
	e := &Executor{
		actions: make(map[Stage][]action),
		timeout: actionTimeout,
		logger:  logger,
	}

	e.actions[StageNotification] = []action{
		{name: "send_audit_notification", run: func(ctx context.Context, audit *models.Audit) error {
			if err := deps.Notifier.Send(ctx, audit, TemplateAuditScheduled); err != nil {
				return err
			}
			return deps.Progress.MergeProgress(ctx, audit.ID, map[string]interface{}{"provider_notified": true})
		}},
	}

	e.actions[StageAutomaticValidation] = []action{
		{name: "run_inventory_ingestion", blocking: true, run: func(ctx context.Context, audit *models.Audit) error {
			data, err := deps.Storage.Download(ctx, *audit.InventoryPath)
			if err != nil {
				return err
			}
			jobID, err := deps.Pipeline.Submit(ctx, audit, data, ingest.SubmitOptions{Filename: derefOr(audit.InventoryFilename, "inventory")})
			if errors.Is(err, ingest.ErrDuplicateSubmission) {
				// The file was already ingested (typically submitted directly
				// before the stage advanced); nothing left to start.
				return nil
			}
			if err != nil {
				return err
			}
			return deps.Progress.MergeProgress(ctx, audit.ID, map[string]interface{}{"ingestion_job_id": jobID})
		}},
		{name: "run_document_scoring", run: func(ctx context.Context, audit *models.Audit) error {
			score, details, err := deps.Scorer.Score(ctx, audit.ID)
			if err != nil {
				return err
			}
			return deps.Progress.MergeProgress(ctx, audit.ID, map[string]interface{}{
				"document_score":         score,
				"document_score_details": details,
			})
		}},
	}

	e.actions[StageResultNotification] = []action{
		{name: "generate_report", blocking: true, run: func(ctx context.Context, audit *models.Audit) error {
			artifact, err := deps.Reports.Generate(ctx, audit)
			if err != nil {
				return err
			}
			return deps.Progress.MergeProgress(ctx, audit.ID, map[string]interface{}{"report_artifact_id": artifact.ID})
		}},
		{name: "send_result_notification", run: func(ctx context.Context, audit *models.Audit) error {
			return deps.Notifier.Send(ctx, audit, TemplateAuditResult)
		}},
	}

	e.actions[StageCompleted] = []action{
		{name: "archive_audit", blocking: true, run: func(ctx context.Context, audit *models.Audit) error {
			return deps.Archiver.Archive(ctx, audit.ID)
		}},
	}

	return e
}

// Run executes the automatic actions for the stage just entered. Returns the
// per-action log and whether the transition is degraded (a blocking action
// failed and aborted the sequence).
func (e *Executor) Run(ctx context.Context, audit *models.Audit, entered Stage) ([]ActionLogEntry, bool) {
	sequence := e.actions[entered]
	if len(sequence) == 0 {
		return nil, false
	}

	log := make([]ActionLogEntry, 0, len(sequence))
	for i, act := range sequence {
		actionCtx, cancel := context.WithTimeout(ctx, e.timeout)
		err := act.run(actionCtx, audit)
		cancel()

		if err == nil {
			log = append(log, ActionLogEntry{Action: act.name, Outcome: OutcomeOK})
			continue
		}

		telemetry.WorkflowActionFailuresTotal.WithLabelValues(act.name).Inc()
		e.logger.Error("automatic action failed",
			"audit_id", audit.ID, "state", entered.State(), "action", act.name, "error", err)
		log = append(log, ActionLogEntry{Action: act.name, Outcome: OutcomeFailed, Error: err.Error()})

		if act.blocking {
			for _, skipped := range sequence[i+1:] {
				e.logger.Warn("skipping action after blocking failure",
					"audit_id", audit.ID, "action", skipped.name)
			}
			return log, true
		}
	}
	return log, false
}

func derefOr(s *string, fallback string) string {
	if s != nil && *s != "" {
		return *s
	}
	return fallback
}
