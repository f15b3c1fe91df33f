package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeDocumentStore struct {
	sections []*models.DocumentSection
	err      error
}

func (f *fakeDocumentStore) ListSections(context.Context, string) ([]*models.DocumentSection, error) {
	return f.sections, f.err
}

type fakeJobReader struct {
	completed *models.ComplianceJob
	running   bool
	err       error
}

func (f *fakeJobReader) LatestCompletedJob(context.Context, string) (*models.ComplianceJob, error) {
	return f.completed, f.err
}

func (f *fakeJobReader) HasRunningJob(context.Context, string) (bool, error) {
	return f.running, f.err
}

type fakeReviewReader struct {
	verdicts []*models.ReviewVerdict
	err      error
}

func (f *fakeReviewReader) ListVerdicts(context.Context, string) ([]*models.ReviewVerdict, error) {
	return f.verdicts, f.err
}

type fakeReportReader struct {
	artifact *models.ReportArtifact
	err      error
}

func (f *fakeReportReader) LatestReportArtifact(context.Context, string) (*models.ReportArtifact, error) {
	return f.artifact, f.err
}

type registryFakes struct {
	documents *fakeDocumentStore
	jobs      *fakeJobReader
	reviews   *fakeReviewReader
	reports   *fakeReportReader
}

func newRegistry() (*GuardRegistry, *registryFakes) {
	f := &registryFakes{
		documents: &fakeDocumentStore{},
		jobs:      &fakeJobReader{},
		reviews:   &fakeReviewReader{},
		reports:   &fakeReportReader{},
	}
	return NewGuardRegistry(f.documents, f.jobs, f.reviews, f.reports), f
}

func auditAtStage(stage Stage) *models.Audit {
	now := time.Now()
	path := "inventories/audit-1/inv.xlsx"
	hash := "abc"
	return &models.Audit{
		ID:            "audit-1",
		ProviderID:    "provider-1",
		AuditorID:     "auditor-1",
		Stage:         int(stage),
		State:         stage.State(),
		ScheduledAt:   &now,
		Thresholds:    &models.ThresholdSet{},
		InventoryPath: &path,
		InventoryHash: &hash,
	}
}

func verdict(section, v string, resolved bool) *models.ReviewVerdict {
	return &models.ReviewVerdict{Section: section, Verdict: &v, Resolved: resolved}
}

// ---------------------------------------------------------------------------
// Per-stage guards
// ---------------------------------------------------------------------------

func TestGuardConfiguration(t *testing.T) {
	registry, _ := newRegistry()

	audit := auditAtStage(StageConfiguration)
	result, err := registry.Evaluate(context.Background(), audit, AdvanceOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected complete configuration to pass: %s", result.Reason)
	}

	audit.AuditorID = ""
	audit.ScheduledAt = nil
	result, err = registry.Evaluate(context.Background(), audit, AdvanceOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected incomplete configuration to block")
	}
	if len(result.RequiredActions) != 2 {
		t.Errorf("RequiredActions = %v, want 2 entries", result.RequiredActions)
	}
}

func TestGuardNotification_AlwaysAllowed(t *testing.T) {
	registry, _ := newRegistry()

	result, err := registry.Evaluate(context.Background(), auditAtStage(StageNotification), AdvanceOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected notification stage to always allow: %s", result.Reason)
	}
}

func TestGuardDocuments(t *testing.T) {
	registry, fakes := newRegistry()
	fakes.documents.sections = []*models.DocumentSection{
		{Section: "facilities", IsMandatory: true, HasActiveUpload: true},
		{Section: "floor_plan", IsMandatory: true, HasActiveUpload: false},
		{Section: "extras", IsMandatory: false, HasActiveUpload: false},
	}

	result, err := registry.Evaluate(context.Background(), auditAtStage(StageOnsitePresentationUpload), AdvanceOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected missing mandatory upload to block")
	}
	if len(result.RequiredActions) != 1 {
		t.Errorf("RequiredActions = %v, want only the mandatory section", result.RequiredActions)
	}

	fakes.documents.sections[1].HasActiveUpload = true
	result, _ = registry.Evaluate(context.Background(), auditAtStage(StageOnsitePresentationUpload), AdvanceOptions{})
	if !result.Allowed {
		t.Errorf("expected all mandatory sections uploaded to pass: %s", result.Reason)
	}
}

func TestGuardDocuments_StoreError(t *testing.T) {
	registry, fakes := newRegistry()
	fakes.documents.err = errors.New("db down")

	_, err := registry.Evaluate(context.Background(), auditAtStage(StageOnsitePresentationUpload), AdvanceOptions{})
	if err == nil {
		t.Error("expected error, got nil")
	}
}

func TestGuardInventory(t *testing.T) {
	registry, _ := newRegistry()

	audit := auditAtStage(StageInventoryUpload)
	result, _ := registry.Evaluate(context.Background(), audit, AdvanceOptions{})
	if !result.Allowed {
		t.Errorf("expected recorded inventory to pass: %s", result.Reason)
	}

	audit.InventoryPath = nil
	audit.InventoryHash = nil
	result, _ = registry.Evaluate(context.Background(), audit, AdvanceOptions{})
	if result.Allowed {
		t.Error("expected missing inventory to block")
	}
}

func TestGuardValidation(t *testing.T) {
	registry, fakes := newRegistry()
	audit := auditAtStage(StageAutomaticValidation)

	// No job at all.
	result, _ := registry.Evaluate(context.Background(), audit, AdvanceOptions{})
	if result.Allowed {
		t.Error("expected missing ingestion job to block")
	}

	// Job still running.
	fakes.jobs.running = true
	result, _ = registry.Evaluate(context.Background(), audit, AdvanceOptions{})
	if result.Allowed {
		t.Error("expected running ingestion job to block")
	}
	if result.Reason == "" {
		t.Error("expected a blocking reason while the job runs")
	}

	// Job completed.
	fakes.jobs.completed = &models.ComplianceJob{ID: "job-1", Status: models.JobStatusCompleted}
	result, _ = registry.Evaluate(context.Background(), audit, AdvanceOptions{})
	if !result.Allowed {
		t.Errorf("expected completed ingestion job to pass: %s", result.Reason)
	}
}

func TestGuardReview(t *testing.T) {
	registry, fakes := newRegistry()
	audit := auditAtStage(StageAuditorReview)

	// A section still awaiting its verdict.
	fakes.reviews.verdicts = []*models.ReviewVerdict{
		verdict("infrastructure", models.VerdictApproved, false),
		{Section: "security"},
	}
	result, _ := registry.Evaluate(context.Background(), audit, AdvanceOptions{})
	if result.Allowed {
		t.Error("expected missing verdict to block")
	}

	// All recorded, one unresolved critical.
	fakes.reviews.verdicts = []*models.ReviewVerdict{
		verdict("infrastructure", models.VerdictApproved, false),
		verdict("security", models.VerdictCritical, false),
	}
	result, _ = registry.Evaluate(context.Background(), audit, AdvanceOptions{})
	if result.Allowed {
		t.Error("expected unresolved critical verdict to block")
	}

	// Same, with explicit override.
	result, _ = registry.Evaluate(context.Background(), audit, AdvanceOptions{OverrideCriticalVerdicts: true})
	if !result.Allowed {
		t.Errorf("expected critical override to pass: %s", result.Reason)
	}

	// Critical resolved.
	fakes.reviews.verdicts[1].Resolved = true
	result, _ = registry.Evaluate(context.Background(), audit, AdvanceOptions{})
	if !result.Allowed {
		t.Errorf("expected resolved critical to pass: %s", result.Reason)
	}
}

func TestGuardReport(t *testing.T) {
	registry, fakes := newRegistry()
	audit := auditAtStage(StageResultNotification)

	result, _ := registry.Evaluate(context.Background(), audit, AdvanceOptions{})
	if result.Allowed {
		t.Error("expected missing report artifact to block")
	}

	fakes.reports.artifact = &models.ReportArtifact{ID: "artifact-1"}
	result, _ = registry.Evaluate(context.Background(), audit, AdvanceOptions{})
	if !result.Allowed {
		t.Errorf("expected existing report artifact to pass: %s", result.Reason)
	}
}

func TestGuardCompleted_Terminal(t *testing.T) {
	registry, _ := newRegistry()

	result, err := registry.Evaluate(context.Background(), auditAtStage(StageCompleted), AdvanceOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Error("expected the terminal stage to never allow an advance")
	}
}

// ---------------------------------------------------------------------------
// Stage enum
// ---------------------------------------------------------------------------

func TestStageStateNames(t *testing.T) {
	want := map[Stage]string{
		StageConfiguration:            "configuration",
		StageNotification:             "notification",
		StageOnsitePresentationUpload: "onsite_presentation_upload",
		StageInventoryUpload:          "inventory_upload",
		StageAutomaticValidation:      "automatic_validation",
		StageAuditorReview:            "auditor_review",
		StageResultNotification:       "result_notification",
		StageCompleted:                "completed",
	}
	for stage, name := range want {
		if got := stage.State(); got != name {
			t.Errorf("Stage(%d).State() = %q, want %q", int(stage), got, name)
		}
	}
}

func TestStageAutomatic(t *testing.T) {
	automatic := map[Stage]bool{
		StageNotification:        true,
		StageAutomaticValidation: true,
		StageResultNotification:  true,
		StageCompleted:           true,
	}
	for s := StageConfiguration; s <= StageCompleted; s++ {
		if got := s.Automatic(); got != automatic[s] {
			t.Errorf("Stage(%d).Automatic() = %v, want %v", int(s), got, automatic[s])
		}
	}
}

func TestStageValid(t *testing.T) {
	if Stage(0).Valid() || Stage(9).Valid() {
		t.Error("expected out-of-range stages to be invalid")
	}
	for s := StageConfiguration; s <= StageCompleted; s++ {
		if !s.Valid() {
			t.Errorf("Stage(%d).Valid() = false, want true", int(s))
		}
	}
}
