// Package compliance implements the HTTP handlers for ingestion job status
// and cancellation.
package compliance

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

// JobService is the pipeline surface the handlers need.
type JobService interface {
	GetJob(ctx context.Context, jobID string) (*models.ComplianceJob, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
}

// Handlers serves the /api/v1/jobs routes.
type Handlers struct {
	jobs JobService
}

// NewHandlers creates the job handlers.
func NewHandlers(jobs JobService) *Handlers {
	return &Handlers{jobs: jobs}
}

type jobStatusResponse struct {
	ID             string           `json:"id"`
	AuditID        string           `json:"audit_id"`
	Status         string           `json:"status"`
	SourceFilename string           `json:"source_filename"`
	StrictMode     bool             `json:"strict_mode"`
	RowCount       int              `json:"row_count"`
	RejectedRows   int              `json:"rejected_rows"`
	Stats          *models.JobStats `json:"stats,omitempty"`
	Error          *string          `json:"error,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// @Summary      Job status
// @Description  Current status and statistics of one ingestion job.
// @Tags         Jobs
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Job ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/jobs/{id} [get]
// GetJob returns one job's status and statistics.
// GET /api/v1/jobs/:id
func (h *Handlers) GetJob(c *gin.Context) {
	job, err := h.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, jobStatusResponse{
		ID:             job.ID,
		AuditID:        job.AuditID,
		Status:         job.Status,
		SourceFilename: job.SourceFilename,
		StrictMode:     job.StrictMode,
		RowCount:       job.RowCount,
		RejectedRows:   job.RejectedRows,
		Stats:          job.Stats,
		Error:          job.Error,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
	})
}

// @Summary      Cancel job
// @Description  Cancel a running ingestion job. Records already produced by the run are discarded.
// @Tags         Jobs
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Job ID"
// @Success      200  {object}  map[string]interface{}  "cancelled: true"
// @Failure      409  {object}  map[string]interface{}  "Job already finished or unknown"
// @Router       /api/v1/jobs/{id}/cancel [post]
// CancelJob cancels a running job.
// POST /api/v1/jobs/:id/cancel
func (h *Handlers) CancelJob(c *gin.Context) {
	cancelled, err := h.jobs.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel job"})
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, gin.H{
			"error": "job is not running",
			"code":  "not_running",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
