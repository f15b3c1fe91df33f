package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

func newReviewRepo(t *testing.T) (*ReviewRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewReviewRepository(sqlx.NewDb(db, "sqlmock")), mock
}

var verdictCols = []string{"id", "audit_id", "section", "verdict", "resolved", "auditor_id", "comment", "created_at"}

// ---------------------------------------------------------------------------
// ListVerdicts
// ---------------------------------------------------------------------------

func TestListVerdicts_Success(t *testing.T) {
	repo, mock := newReviewRepo(t)
	rows := sqlmock.NewRows(verdictCols).
		AddRow("v-1", "audit-1", "infrastructure", "approved", true, "auditor-7", nil, time.Now()).
		AddRow("v-2", "audit-1", "security", nil, false, nil, nil, time.Now())
	mock.ExpectQuery("SELECT.*FROM review_verdicts.*WHERE audit_id").
		WithArgs("audit-1").
		WillReturnRows(rows)

	verdicts, err := repo.ListVerdicts(context.Background(), "audit-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(verdicts) != 2 {
		t.Fatalf("got %d verdicts, want 2", len(verdicts))
	}
	if verdicts[0].Verdict == nil || *verdicts[0].Verdict != models.VerdictApproved {
		t.Errorf("first verdict = %v, want approved", verdicts[0].Verdict)
	}
	if verdicts[1].Verdict != nil {
		t.Errorf("pending section should have nil verdict, got %v", *verdicts[1].Verdict)
	}
}

func TestListVerdicts_Empty(t *testing.T) {
	repo, mock := newReviewRepo(t)
	mock.ExpectQuery("SELECT.*FROM review_verdicts").
		WithArgs("audit-1").
		WillReturnRows(sqlmock.NewRows(verdictCols))

	verdicts, err := repo.ListVerdicts(context.Background(), "audit-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(verdicts) != 0 {
		t.Errorf("got %d verdicts, want 0", len(verdicts))
	}
}

func TestListVerdicts_DBError(t *testing.T) {
	repo, mock := newReviewRepo(t)
	mock.ExpectQuery("SELECT.*FROM review_verdicts").
		WithArgs("audit-1").
		WillReturnError(errDB)

	if _, err := repo.ListVerdicts(context.Background(), "audit-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// CreateReportArtifact
// ---------------------------------------------------------------------------

func TestCreateReportArtifact_Success(t *testing.T) {
	repo, mock := newReviewRepo(t)
	mock.ExpectExec("INSERT INTO report_artifacts").
		WillReturnResult(sqlmock.NewResult(1, 1))

	artifact := &models.ReportArtifact{
		AuditID:     "audit-1",
		StoragePath: "reports/audit-1/a.json",
		Checksum:    "abc123",
	}
	if err := repo.CreateReportArtifact(context.Background(), artifact); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.ID == "" {
		t.Error("artifact ID was not assigned")
	}
	if artifact.GeneratedAt.IsZero() {
		t.Error("GeneratedAt was not set")
	}
}

func TestCreateReportArtifact_PreservesCallerID(t *testing.T) {
	repo, mock := newReviewRepo(t)
	generatedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO report_artifacts").
		WithArgs("preset-id", "audit-1", "reports/audit-1/preset-id.json", "abc123", generatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	artifact := &models.ReportArtifact{
		ID:          "preset-id",
		AuditID:     "audit-1",
		StoragePath: "reports/audit-1/preset-id.json",
		Checksum:    "abc123",
		GeneratedAt: generatedAt,
	}
	if err := repo.CreateReportArtifact(context.Background(), artifact); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.ID != "preset-id" {
		t.Errorf("ID = %q, caller-assigned ID was overwritten", artifact.ID)
	}
}

func TestCreateReportArtifact_DBError(t *testing.T) {
	repo, mock := newReviewRepo(t)
	mock.ExpectExec("INSERT INTO report_artifacts").
		WillReturnError(errDB)

	err := repo.CreateReportArtifact(context.Background(), &models.ReportArtifact{AuditID: "audit-1"})
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// LatestReportArtifact
// ---------------------------------------------------------------------------

func TestLatestReportArtifact_Found(t *testing.T) {
	repo, mock := newReviewRepo(t)
	rows := sqlmock.NewRows([]string{"id", "audit_id", "storage_path", "checksum", "generated_at"}).
		AddRow("artifact-1", "audit-1", "reports/audit-1/artifact-1.json", "abc123", time.Now())
	mock.ExpectQuery("SELECT.*FROM report_artifacts.*ORDER BY generated_at DESC").
		WithArgs("audit-1").
		WillReturnRows(rows)

	artifact, err := repo.LatestReportArtifact(context.Background(), "audit-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact == nil || artifact.ID != "artifact-1" {
		t.Errorf("artifact = %+v, want artifact-1", artifact)
	}
}

func TestLatestReportArtifact_NotFound(t *testing.T) {
	repo, mock := newReviewRepo(t)
	mock.ExpectQuery("SELECT.*FROM report_artifacts").
		WithArgs("audit-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "audit_id", "storage_path", "checksum", "generated_at"}))

	artifact, err := repo.LatestReportArtifact(context.Background(), "audit-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact != nil {
		t.Errorf("artifact = %+v, want nil when none exists", artifact)
	}
}

func TestLatestReportArtifact_DBError(t *testing.T) {
	repo, mock := newReviewRepo(t)
	mock.ExpectQuery("SELECT.*FROM report_artifacts").
		WithArgs("audit-1").
		WillReturnError(errDB)

	if _, err := repo.LatestReportArtifact(context.Background(), "audit-1"); err == nil {
		t.Error("expected error, got nil")
	}
}
