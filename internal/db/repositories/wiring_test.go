package repositories

import (
	"github.com/audit-portal/audit-portal/internal/ingest"
	"github.com/audit-portal/audit-portal/internal/jobs"
	"github.com/audit-portal/audit-portal/internal/report"
	"github.com/audit-portal/audit-portal/internal/trail"
	"github.com/audit-portal/audit-portal/internal/workflow"
)

// Compile-time checks that each repository satisfies every consumer interface
// the router wires it into. A signature drift between a repository and one of
// its consumers shows up here instead of in the router.
var (
	_ workflow.AuditStore     = (*AuditRepository)(nil)
	_ workflow.Archiver       = (*AuditRepository)(nil)
	_ workflow.ProgressWriter = (*AuditRepository)(nil)

	_ workflow.DocumentStore = (*DocumentRepository)(nil)

	_ workflow.JobReader = (*JobRepository)(nil)
	_ report.JobReader   = (*JobRepository)(nil)
	_ ingest.JobStore    = (*JobRepository)(nil)
	_ jobs.StaleJobStore = (*JobRepository)(nil)

	_ workflow.ReviewReader = (*ReviewRepository)(nil)
	_ workflow.ReportReader = (*ReviewRepository)(nil)
	_ report.VerdictReader  = (*ReviewRepository)(nil)
	_ report.ArtifactWriter = (*ReviewRepository)(nil)

	_ trail.EventStore = (*TrailRepository)(nil)
)
