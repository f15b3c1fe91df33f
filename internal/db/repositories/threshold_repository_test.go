package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

func newThresholdRepo(t *testing.T) (*ThresholdRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewThresholdRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// UpsertProfile
// ---------------------------------------------------------------------------

func TestUpsertProfile_Success(t *testing.T) {
	repo, mock := newThresholdRepo(t)
	mock.ExpectExec("INSERT INTO threshold_profiles.*ON CONFLICT").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rules := &models.ThresholdSet{RAM: models.RAMThreshold{MinGB: 16}}
	if err := repo.UpsertProfile(context.Background(), "standard", rules); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsertProfile_DBError(t *testing.T) {
	repo, mock := newThresholdRepo(t)
	mock.ExpectExec("INSERT INTO threshold_profiles.*ON CONFLICT").
		WillReturnError(errDB)

	if err := repo.UpsertProfile(context.Background(), "standard", &models.ThresholdSet{}); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetProfile
// ---------------------------------------------------------------------------

func TestGetProfile_Found(t *testing.T) {
	repo, mock := newThresholdRepo(t)
	rows := sqlmock.NewRows([]string{"id", "name", "rules", "created_at", "updated_at"}).
		AddRow("profile-1", "standard", []byte(`{"ram":{"min_gb":16}}`), time.Now(), time.Now())
	mock.ExpectQuery("SELECT.*FROM threshold_profiles.*WHERE name").
		WithArgs("standard").
		WillReturnRows(rows)

	profile, err := repo.GetProfile(context.Background(), "standard")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile == nil {
		t.Fatal("expected profile, got nil")
	}
	if profile.Rules == nil || profile.Rules.RAM.MinGB != 16 {
		t.Errorf("expected rules to be decoded, got %+v", profile.Rules)
	}
}

func TestGetProfile_NotFound(t *testing.T) {
	repo, mock := newThresholdRepo(t)
	mock.ExpectQuery("SELECT.*FROM threshold_profiles.*WHERE name").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "rules", "created_at", "updated_at"}))

	profile, err := repo.GetProfile(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile != nil {
		t.Errorf("expected nil profile, got %v", profile)
	}
}

// ---------------------------------------------------------------------------
// ListProfileNames
// ---------------------------------------------------------------------------

func TestListProfileNames_Success(t *testing.T) {
	repo, mock := newThresholdRepo(t)
	rows := sqlmock.NewRows([]string{"name"}).AddRow("contact_center").AddRow("standard")
	mock.ExpectQuery("SELECT name FROM threshold_profiles").
		WillReturnRows(rows)

	names, err := repo.ListProfileNames(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "contact_center" {
		t.Errorf("names = %v, want [contact_center standard]", names)
	}
}
