package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

// fakeJobStore is an in-memory JobStore that signals when a job reaches a
// terminal status.
type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*models.ComplianceJob
	records map[string][]*models.AssetRecord
	done    chan string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:    make(map[string]*models.ComplianceJob),
		records: make(map[string][]*models.AssetRecord),
		done:    make(chan string, 8),
	}
}

func (s *fakeJobStore) CreateJob(_ context.Context, job *models.ComplianceJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.ID = fmt.Sprintf("job-%d", len(s.jobs)+1)
	job.Status = models.JobStatusRunning
	job.StartedAt = time.Now()
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *fakeJobStore) ExistsLiveJob(_ context.Context, auditID, sourceHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.AuditID == auditID && job.SourceHash == sourceHash &&
			(job.Status == models.JobStatusRunning || job.Status == models.JobStatusCompleted) {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeJobStore) CompleteJob(_ context.Context, job *models.ComplianceJob, records []*models.AssetRecord) error {
	s.mu.Lock()
	stored, ok := s.jobs[job.ID]
	if !ok || stored.Status != models.JobStatusRunning {
		s.mu.Unlock()
		return errors.New("job is no longer running")
	}
	now := time.Now()
	clone := *job
	clone.Status = models.JobStatusCompleted
	clone.CompletedAt = &now
	s.jobs[job.ID] = &clone
	s.records[job.ID] = records
	s.mu.Unlock()

	job.Status = models.JobStatusCompleted
	job.CompletedAt = &now
	s.done <- job.ID
	return nil
}

func (s *fakeJobStore) FailJob(_ context.Context, jobID, diagnostic string) error {
	s.mu.Lock()
	if job, ok := s.jobs[jobID]; ok && job.Status == models.JobStatusRunning {
		job.Status = models.JobStatusFailed
		job.Error = &diagnostic
	}
	s.mu.Unlock()
	s.done <- jobID
	return nil
}

func (s *fakeJobStore) CancelJob(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != models.JobStatusRunning {
		return false, nil
	}
	job.Status = models.JobStatusCancelled
	return true, nil
}

func (s *fakeJobStore) GetJob(_ context.Context, jobID string) (*models.ComplianceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	clone := *job
	return &clone, nil
}

func (s *fakeJobStore) waitTerminal(t *testing.T) string {
	t.Helper()
	select {
	case id := <-s.done:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to finish")
		return ""
	}
}

func testAudit() *models.Audit {
	return &models.Audit{ID: "audit-1", Thresholds: testThresholds()}
}

func newTestPipeline(store *fakeJobStore) *Pipeline {
	return NewPipeline(store, nil, slog.Default(), 4)
}

// inventoryCSV builds a semicolon-delimited inventory with n rows, the first
// compliant of them passing every threshold and the rest failing RAM.
func inventoryCSV(n, compliant int) []byte {
	var b strings.Builder
	b.WriteString("Sede;DNI;Equipo;Marca CPU;Velocidad CPU;RAM;Tipo de Disco;Capacidad de Disco;Sistema Operativo;Version SO;Descarga;Subida;Tipo de Atencion\n")
	for i := 0; i < n; i++ {
		ram := "16 GB"
		if i >= compliant {
			ram = "4 GB"
		}
		fmt.Fprintf(&b, "Lima;E%03d;host-%d;Intel Core i5;2.4 GHz;%s;SSD;480 GB;Windows 10;10.0.19045;100;20;Inbound\n", i, i, ram)
	}
	return []byte(b.String())
}

func TestPipeline_CompletesCompliantBatch(t *testing.T) {
	store := newFakeJobStore()
	p := newTestPipeline(store)

	jobID, err := p.Submit(context.Background(), testAudit(), inventoryCSV(5, 5), SubmitOptions{Filename: "inv.csv"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.waitTerminal(t)

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("Status = %s, want completed (error: %v)", job.Status, job.Error)
	}
	if len(store.records[jobID]) != 5 {
		t.Errorf("persisted records = %d, want 5", len(store.records[jobID]))
	}
	for _, rec := range store.records[jobID] {
		if !rec.OverallCompliant {
			t.Errorf("row %d non-compliant: %v", rec.Row, rec.FailureReasons)
		}
		if rec.QualityScore != 100 {
			t.Errorf("row %d score = %d, want 100", rec.Row, rec.QualityScore)
		}
	}
}

func TestPipeline_StrictModeExcludesButCounts(t *testing.T) {
	store := newFakeJobStore()
	p := newTestPipeline(store)

	jobID, err := p.Submit(context.Background(), testAudit(), inventoryCSV(10, 7), SubmitOptions{StrictMode: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.waitTerminal(t)

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("Status = %s, want completed", job.Status)
	}
	if len(store.records[jobID]) != 7 {
		t.Errorf("persisted records = %d, want 7", len(store.records[jobID]))
	}

	stored := store.jobs[jobID]
	if stored.RejectedRows != 3 {
		t.Errorf("RejectedRows = %d, want 3", stored.RejectedRows)
	}
	if stored.RowCount != 10 {
		t.Errorf("RowCount = %d, want 10", stored.RowCount)
	}
	if stored.Stats.ComplianceRate != 0.7 {
		t.Errorf("ComplianceRate = %v, want 0.7", stored.Stats.ComplianceRate)
	}
}

func TestPipeline_DuplicateSubmissionRejected(t *testing.T) {
	store := newFakeJobStore()
	p := newTestPipeline(store)
	data := inventoryCSV(3, 3)

	if _, err := p.Submit(context.Background(), testAudit(), data, SubmitOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.waitTerminal(t)

	_, err := p.Submit(context.Background(), testAudit(), data, SubmitOptions{})
	if !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("err = %v, want ErrDuplicateSubmission", err)
	}
	if len(store.jobs) != 1 {
		t.Errorf("jobs = %d, want 1 (no second job created)", len(store.jobs))
	}
}

func TestPipeline_DifferentBytesAreNotDuplicates(t *testing.T) {
	store := newFakeJobStore()
	p := newTestPipeline(store)

	if _, err := p.Submit(context.Background(), testAudit(), inventoryCSV(3, 3), SubmitOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.waitTerminal(t)

	if _, err := p.Submit(context.Background(), testAudit(), inventoryCSV(4, 4), SubmitOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.waitTerminal(t)

	if len(store.jobs) != 2 {
		t.Errorf("jobs = %d, want 2", len(store.jobs))
	}
}

func TestPipeline_UnreadableFileFailsJob(t *testing.T) {
	store := newFakeJobStore()
	p := newTestPipeline(store)

	jobID, err := p.Submit(context.Background(), testAudit(), []byte{}, SubmitOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.waitTerminal(t)

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("Status = %s, want failed", job.Status)
	}
	if job.Error == nil {
		t.Error("expected a diagnostic on the failed job")
	}
}

func TestPipeline_NoResolvableColumnsFailsJob(t *testing.T) {
	store := newFakeJobStore()
	p := newTestPipeline(store)

	data := []byte("col_a;col_b;col_c\n1;2;3\n")
	jobID, err := p.Submit(context.Background(), testAudit(), data, SubmitOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.waitTerminal(t)

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("Status = %s, want failed", job.Status)
	}
}

func TestPipeline_UnparsableRowDegradesNotFails(t *testing.T) {
	store := newFakeJobStore()
	p := newTestPipeline(store)

	data := []byte("Sede;RAM;Sistema Operativo\nLima;mucha;Windows 10\n")
	jobID, err := p.Submit(context.Background(), testAudit(), data, SubmitOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.waitTerminal(t)

	job, _ := store.GetJob(context.Background(), jobID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("Status = %s, want completed", job.Status)
	}

	records := store.records[jobID]
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.OverallCompliant {
		t.Error("expected degraded row to be non-compliant")
	}
	if rec.ComponentCompliance["ram"] {
		t.Error("expected ram to fail after unparsable value degraded to zero")
	}
	if rec.FailureReasons["ram"] != reasonDataMissing {
		t.Errorf("ram reason = %q, want %q", rec.FailureReasons["ram"], reasonDataMissing)
	}
}

func TestPipeline_CancelDiscardsRecords(t *testing.T) {
	store := newFakeJobStore()
	p := newTestPipeline(store)

	jobID, err := p.Submit(context.Background(), testAudit(), inventoryCSV(50, 50), SubmitOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancelled, err := p.Cancel(context.Background(), jobID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cancelled {
		// Cancellation won the race: the job must end cancelled with nothing
		// persisted. Otherwise the job already completed and was persisted in
		// full; both orders are legal, partial persistence is not.
		job, _ := store.GetJob(context.Background(), jobID)
		if job.Status != models.JobStatusCancelled {
			t.Fatalf("Status = %s, want cancelled", job.Status)
		}
		if len(store.records[jobID]) != 0 {
			t.Errorf("records = %d, want 0 after cancellation", len(store.records[jobID]))
		}
	}
}

func TestPipeline_StatsAggregation(t *testing.T) {
	store := newFakeJobStore()
	p := newTestPipeline(store)

	jobID, err := p.Submit(context.Background(), testAudit(), inventoryCSV(4, 2), SubmitOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.waitTerminal(t)

	stored := store.jobs[jobID]
	if stored.Status != models.JobStatusCompleted {
		t.Fatalf("Status = %s, want completed", stored.Status)
	}
	if stored.Stats.ComplianceRate != 0.5 {
		t.Errorf("ComplianceRate = %v, want 0.5", stored.Stats.ComplianceRate)
	}
	if stored.Stats.ComponentPassRate["ram"] != 0.5 {
		t.Errorf("ram pass rate = %v, want 0.5", stored.Stats.ComponentPassRate["ram"])
	}
	if stored.Stats.ComponentPassRate["cpu"] != 1.0 {
		t.Errorf("cpu pass rate = %v, want 1.0", stored.Stats.ComponentPassRate["cpu"])
	}
	// Two records at 100, two at 80: mean 90.
	if stored.Stats.MeanQualityScore != 90 {
		t.Errorf("MeanQualityScore = %d, want 90", stored.Stats.MeanQualityScore)
	}
}
