// orchestrator.go is the top-level state machine. An advance request loads
// the audit, evaluates its current stage's exit guard, performs the stage
// increment as an optimistic compare-and-swap on the stored stage, then runs
// the entered stage's automatic actions and records the transition on the
// audit trail. Two concurrent advances from the same stage cannot both
// succeed; the loser gets a retryable stale-stage error.
//
// The stage advance commits before the automatic actions run. A blocking
// action failure flags the transition degraded but never rolls the stage
// back; operators resolve degraded transitions by re-running the failed
// side effects, not by replaying the transition.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/audit-portal/audit-portal/internal/db/models"
	"github.com/audit-portal/audit-portal/internal/telemetry"
)

var (
	// ErrAuditNotFound is returned when the audit does not exist.
	ErrAuditNotFound = errors.New("audit not found")
	// ErrAuditArchived is returned for operations on an archived audit.
	ErrAuditArchived = errors.New("audit is archived")
	// ErrStaleStage is returned when a concurrent advance won the
	// compare-and-swap. Retryable: re-read the audit and decide again.
	ErrStaleStage = errors.New("audit stage changed concurrently, retry")
)

// GuardRejectedError carries the guard's rejection back to the caller. Guard
// rejections are expected outcomes, surfaced as a distinct type so transports
// can map them to a conflict response instead of a server error.
type GuardRejectedError struct {
	Result GuardResult
}

func (e *GuardRejectedError) Error() string {
	return fmt.Sprintf("stage advance rejected: %s", e.Result.Reason)
}

// AdvanceOptions are caller-supplied options for one advance request.
type AdvanceOptions struct {
	Actor string
	// OverrideCriticalVerdicts lets the review guard pass with unresolved
	// critical verdicts. Recorded on the trail event.
	OverrideCriticalVerdicts bool
}

// TransitionResult describes one successful stage advance.
type TransitionResult struct {
	FromStage int              `json:"from_stage"`
	ToStage   int              `json:"to_stage"`
	NewState  string           `json:"new_state"`
	ActionLog []ActionLogEntry `json:"action_log,omitempty"`
	Degraded  bool             `json:"degraded"`
}

// WorkflowStatus is the dry-run view of an audit's position and whether it
// can advance right now.
type WorkflowStatus struct {
	Stage           int      `json:"stage"`
	State           string   `json:"state"`
	Automatic       bool     `json:"automatic"`
	CanAdvance      bool     `json:"can_advance"`
	BlockingReason  string   `json:"blocking_reason,omitempty"`
	RequiredActions []string `json:"required_actions,omitempty"`
	Degraded        bool     `json:"degraded"`
	Archived        bool     `json:"archived"`
}

// AuditStore is the persistence surface the orchestrator needs.
type AuditStore interface {
	GetAudit(ctx context.Context, auditID string) (*models.Audit, error)
	AdvanceStage(ctx context.Context, auditID string, fromStage int, toState string) (bool, error)
	SetDegraded(ctx context.Context, auditID string, degraded bool) error
}

// TrailRecorder receives transition events. Best effort.
type TrailRecorder interface {
	Record(ctx context.Context, event *models.TrailEvent)
}

// Orchestrator drives audits through the workflow.
type Orchestrator struct {
	audits   AuditStore
	guards   *GuardRegistry
	executor *Executor
	trail    TrailRecorder
	logger   *slog.Logger
}

// NewOrchestrator wires the state machine together.
func NewOrchestrator(audits AuditStore, guards *GuardRegistry, executor *Executor, trail TrailRecorder, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		audits:   audits,
		guards:   guards,
		executor: executor,
		trail:    trail,
		logger:   logger,
	}
}

// AdvanceStage attempts to move the audit to its next stage.
func (o *Orchestrator) AdvanceStage(ctx context.Context, auditID string, opts AdvanceOptions) (*TransitionResult, error) {
	audit, err := o.audits.GetAudit(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if audit == nil {
		return nil, ErrAuditNotFound
	}
	current := Stage(audit.Stage)
	if !current.Valid() {
		return nil, fmt.Errorf("audit %s has invalid stage %d", auditID, audit.Stage)
	}
	// A completed audit is archived by its own final action; callers get the
	// terminal guard rejection for it. ErrAuditArchived is reserved for
	// audits closed before reaching the end of the workflow.
	if audit.IsArchived() && !current.Terminal() {
		return nil, ErrAuditArchived
	}

	result, err := o.guards.Evaluate(ctx, audit, opts)
	if err != nil {
		return nil, err
	}
	next := current.Next()
	if !result.Allowed {
		telemetry.WorkflowTransitionsTotal.WithLabelValues(next.State(), "rejected").Inc()
		return nil, &GuardRejectedError{Result: result}
	}

	advanced, err := o.audits.AdvanceStage(ctx, auditID, int(current), next.State())
	if err != nil {
		return nil, err
	}
	if !advanced {
		telemetry.WorkflowTransitionsTotal.WithLabelValues(next.State(), "stale").Inc()
		return nil, ErrStaleStage
	}
	audit.Stage = int(next)
	audit.State = next.State()

	actionLog, degraded := o.executor.Run(ctx, audit, next)
	if degraded {
		if err := o.audits.SetDegraded(ctx, auditID, true); err != nil {
			o.logger.Error("failed to flag transition degraded", "audit_id", auditID, "error", err)
		}
	}

	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	telemetry.WorkflowTransitionsTotal.WithLabelValues(next.State(), outcome).Inc()
	o.logger.Info("audit advanced",
		"audit_id", auditID, "from", current.State(), "to", next.State(), "degraded", degraded)

	o.recordTransition(ctx, audit, current, next, opts, actionLog, degraded)

	return &TransitionResult{
		FromStage: int(current),
		ToStage:   int(next),
		NewState:  next.State(),
		ActionLog: actionLog,
		Degraded:  degraded,
	}, nil
}

// GetWorkflowStatus evaluates the current stage's guard without mutating
// anything.
func (o *Orchestrator) GetWorkflowStatus(ctx context.Context, auditID string) (*WorkflowStatus, error) {
	audit, err := o.audits.GetAudit(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if audit == nil {
		return nil, ErrAuditNotFound
	}

	current := Stage(audit.Stage)
	status := &WorkflowStatus{
		Stage:     audit.Stage,
		State:     current.State(),
		Automatic: current.Automatic(),
		Degraded:  audit.Degraded,
		Archived:  audit.IsArchived(),
	}

	result, err := o.guards.Evaluate(ctx, audit, AdvanceOptions{})
	if err != nil {
		return nil, err
	}
	status.CanAdvance = result.Allowed && !status.Archived
	status.BlockingReason = result.Reason
	status.RequiredActions = result.RequiredActions
	return status, nil
}

func (o *Orchestrator) recordTransition(ctx context.Context, audit *models.Audit, from, to Stage, opts AdvanceOptions, actionLog []ActionLogEntry, degraded bool) {
	if o.trail == nil {
		return
	}

	before := from.State()
	after := to.State()
	event := &models.TrailEvent{
		AuditID: audit.ID,
		Type:    models.TrailEventTransition,
		Before:  &before,
		After:   &after,
		Metadata: map[string]interface{}{
			"from_stage": int(from),
			"to_stage":   int(to),
			"degraded":   degraded,
		},
	}
	if opts.Actor != "" {
		event.Actor = &opts.Actor
	}
	if len(actionLog) > 0 {
		event.Metadata["action_log"] = actionLog
	}
	if opts.OverrideCriticalVerdicts {
		event.Metadata["critical_override"] = true
	}
	o.trail.Record(ctx, event)

	if to == StageCompleted {
		o.trail.Record(ctx, &models.TrailEvent{
			AuditID: audit.ID,
			Type:    models.TrailEventArchived,
			Actor:   event.Actor,
		})
	}
}
