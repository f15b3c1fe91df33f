// Package audits implements the HTTP handlers for audit lifecycle
// operations: creation, workflow inspection, stage advancement, inventory
// submission, and the per-audit job and trail listings.
package audits

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-portal/audit-portal/internal/db/models"
	"github.com/audit-portal/audit-portal/internal/ingest"
	"github.com/audit-portal/audit-portal/internal/storage"
	"github.com/audit-portal/audit-portal/internal/workflow"
)

// AuditStore is the audit persistence surface the handlers need.
type AuditStore interface {
	CreateAudit(ctx context.Context, audit *models.Audit) error
	GetAudit(ctx context.Context, auditID string) (*models.Audit, error)
	SetInventory(ctx context.Context, auditID, path, hash, filename string) error
}

// ProfileReader resolves named threshold profiles at audit creation.
type ProfileReader interface {
	GetProfile(ctx context.Context, name string) (*models.ThresholdProfile, error)
}

// Workflow is the orchestrator surface used by the advance and status
// endpoints.
type Workflow interface {
	AdvanceStage(ctx context.Context, auditID string, opts workflow.AdvanceOptions) (*workflow.TransitionResult, error)
	GetWorkflowStatus(ctx context.Context, auditID string) (*workflow.WorkflowStatus, error)
}

// IngestionService accepts inventory submissions.
type IngestionService interface {
	Submit(ctx context.Context, audit *models.Audit, data []byte, opts ingest.SubmitOptions) (string, error)
}

// InventoryUploader retains the submitted file bytes.
type InventoryUploader interface {
	Upload(ctx context.Context, path string, data []byte) (*storage.UploadResult, error)
}

// JobLister lists ingestion jobs for one audit.
type JobLister interface {
	ListJobs(ctx context.Context, auditID string, limit, offset int) ([]*models.ComplianceJob, error)
}

// TrailLister pages through an audit's trail events.
type TrailLister interface {
	ListEvents(ctx context.Context, auditID string, limit, offset int) ([]*models.TrailEvent, int, error)
}

// Handlers carries the collaborators behind the /api/v1/audits routes.
type Handlers struct {
	audits         AuditStore
	profiles       ProfileReader
	workflow       Workflow
	ingestion      IngestionService
	uploader       InventoryUploader
	jobs           JobLister
	trail          TrailLister
	defaultProfile string
	maxUploadBytes int64
}

// NewHandlers creates the audit handlers. maxUploadMB bounds inventory
// uploads; defaultProfile names the threshold profile used when the create
// request does not pick one.
func NewHandlers(audits AuditStore, profiles ProfileReader, wf Workflow, ingestion IngestionService, uploader InventoryUploader, jobs JobLister, trail TrailLister, defaultProfile string, maxUploadMB int) *Handlers {
	return &Handlers{
		audits:         audits,
		profiles:       profiles,
		workflow:       wf,
		ingestion:      ingestion,
		uploader:       uploader,
		jobs:           jobs,
		trail:          trail,
		defaultProfile: defaultProfile,
		maxUploadBytes: int64(maxUploadMB) * 1024 * 1024,
	}
}

// auditResponse is the wire shape of an audit. Thresholds and progress are
// included verbatim; the frontend renders both.
type auditResponse struct {
	ID                string                 `json:"id"`
	ProviderID        string                 `json:"provider_id"`
	AuditorID         string                 `json:"auditor_id"`
	Stage             int                    `json:"stage"`
	State             string                 `json:"state"`
	ScheduledAt       *time.Time             `json:"scheduled_at,omitempty"`
	VisitAt           *time.Time             `json:"visit_at,omitempty"`
	ThresholdProfile  string                 `json:"threshold_profile"`
	Thresholds        *models.ThresholdSet   `json:"thresholds,omitempty"`
	Progress          map[string]interface{} `json:"progress,omitempty"`
	InventoryFilename *string                `json:"inventory_filename,omitempty"`
	Degraded          bool                   `json:"degraded"`
	Archived          bool                   `json:"archived"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

func toAuditResponse(a *models.Audit) auditResponse {
	return auditResponse{
		ID:                a.ID,
		ProviderID:        a.ProviderID,
		AuditorID:         a.AuditorID,
		Stage:             a.Stage,
		State:             a.State,
		ScheduledAt:       a.ScheduledAt,
		VisitAt:           a.VisitAt,
		ThresholdProfile:  a.ThresholdProfile,
		Thresholds:        a.Thresholds,
		Progress:          a.Progress,
		InventoryFilename: a.InventoryFilename,
		Degraded:          a.Degraded,
		Archived:          a.IsArchived(),
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

// @Summary      Create audit
// @Description  Create an audit at the configuration stage with a frozen snapshot of the selected threshold profile.
// @Tags         Audits
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  object  true  "provider_id, auditor_id, scheduled_at (RFC3339), visit_at (RFC3339), threshold_profile"
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "Invalid request or unknown threshold profile"
// @Router       /api/v1/audits [post]
// CreateAudit creates an audit at stage 1.
// POST /api/v1/audits
func (h *Handlers) CreateAudit(c *gin.Context) {
	var req struct {
		ProviderID       string     `json:"provider_id" binding:"required"`
		AuditorID        string     `json:"auditor_id" binding:"required"`
		ScheduledAt      *time.Time `json:"scheduled_at"`
		VisitAt          *time.Time `json:"visit_at"`
		ThresholdProfile string     `json:"threshold_profile"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profileName := req.ThresholdProfile
	if profileName == "" {
		profileName = h.defaultProfile
	}

	profile, err := h.profiles.GetProfile(c.Request.Context(), profileName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve threshold profile"})
		return
	}
	if profile == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown threshold profile: " + profileName})
		return
	}

	audit := &models.Audit{
		ProviderID:       req.ProviderID,
		AuditorID:        req.AuditorID,
		Stage:            int(workflow.StageConfiguration),
		State:            workflow.StageConfiguration.State(),
		ScheduledAt:      req.ScheduledAt,
		VisitAt:          req.VisitAt,
		Thresholds:       profile.Rules,
		ThresholdProfile: profile.Name,
	}
	if userID, exists := c.Get("user_id"); exists {
		if uid, ok := userID.(string); ok && uid != "" {
			audit.CreatedBy = &uid
		}
	}

	if err := h.audits.CreateAudit(c.Request.Context(), audit); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create audit"})
		return
	}

	c.JSON(http.StatusCreated, toAuditResponse(audit))
}

// @Summary      Get audit
// @Tags         Audits
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Audit ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/audits/{id} [get]
// GetAudit returns one audit.
// GET /api/v1/audits/:id
func (h *Handlers) GetAudit(c *gin.Context) {
	audit, err := h.audits.GetAudit(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit"})
		return
	}
	if audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit not found"})
		return
	}

	c.JSON(http.StatusOK, toAuditResponse(audit))
}

// @Summary      Workflow status
// @Description  Dry-run guard evaluation: current position and whether the audit can advance right now.
// @Tags         Audits
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Audit ID"
// @Success      200  {object}  map[string]interface{}  "stage, state, can_advance, blocking_reason, required_actions"
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/v1/audits/{id}/workflow [get]
// GetWorkflowStatus reports the audit's workflow position.
// GET /api/v1/audits/:id/workflow
func (h *Handlers) GetWorkflowStatus(c *gin.Context) {
	status, err := h.workflow.GetWorkflowStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, workflow.ErrAuditNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "audit not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to evaluate workflow status"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// @Summary      Advance stage
// @Description  Attempt to move the audit to the next stage. Guard rejections and concurrent-advance conflicts both return 409 with a machine-readable code.
// @Tags         Audits
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string  true   "Audit ID"
// @Param        body  body  object  false  "override_critical_verdicts"
// @Success      200  {object}  map[string]interface{}  "from_stage, to_stage, new_state, degraded, action_log"
// @Failure      404  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}  "code: guard_rejected | stale_stage | audit_archived"
// @Router       /api/v1/audits/{id}/advance [post]
// AdvanceStage advances the audit one stage.
// POST /api/v1/audits/:id/advance
func (h *Handlers) AdvanceStage(c *gin.Context) {
	var req struct {
		OverrideCriticalVerdicts bool `json:"override_critical_verdicts"`
	}
	// Body is optional; only reject payloads that are present but broken.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	opts := workflow.AdvanceOptions{
		OverrideCriticalVerdicts: req.OverrideCriticalVerdicts,
	}
	if userID, exists := c.Get("user_id"); exists {
		if uid, ok := userID.(string); ok {
			opts.Actor = uid
		}
	}

	result, err := h.workflow.AdvanceStage(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		var rejected *workflow.GuardRejectedError
		switch {
		case errors.As(err, &rejected):
			c.JSON(http.StatusConflict, gin.H{
				"error":            "stage advance rejected",
				"code":             "guard_rejected",
				"reason":           rejected.Result.Reason,
				"required_actions": rejected.Result.RequiredActions,
			})
		case errors.Is(err, workflow.ErrStaleStage):
			c.JSON(http.StatusConflict, gin.H{
				"error": "audit stage changed concurrently, retry",
				"code":  "stale_stage",
			})
		case errors.Is(err, workflow.ErrAuditArchived):
			c.JSON(http.StatusConflict, gin.H{
				"error": "audit is archived",
				"code":  "audit_archived",
			})
		case errors.Is(err, workflow.ErrAuditNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "audit not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to advance stage"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// @Summary      Submit inventory
// @Description  Multipart upload of the provider's inventory spreadsheet. The file is retained in storage and an asynchronous ingestion job is started.
// @Tags         Audits
// @Security     Bearer
// @Accept       multipart/form-data
// @Produce      json
// @Param        id           path      string  true   "Audit ID"
// @Param        file         formData  file    true   "Inventory spreadsheet (.xlsx or .csv)"
// @Param        strict_mode  formData  bool    false  "Exclude non-compliant rows from persisted output"
// @Success      202  {object}  map[string]interface{}  "job_id"
// @Failure      404  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]interface{}  "code: duplicate_submission | audit_archived | wrong_stage"
// @Failure      413  {object}  map[string]interface{}
// @Router       /api/v1/audits/{id}/inventory [post]
// SubmitInventory accepts an inventory spreadsheet and starts ingestion.
// POST /api/v1/audits/:id/inventory
func (h *Handlers) SubmitInventory(c *gin.Context) {
	audit, err := h.audits.GetAudit(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load audit"})
		return
	}
	if audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit not found"})
		return
	}
	if audit.IsArchived() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "audit is archived",
			"code":  "audit_archived",
		})
		return
	}
	// Inventory only becomes relevant at the upload stage; re-submission
	// during validation (e.g. after a failed job) is allowed.
	if audit.Stage < int(workflow.StageInventoryUpload) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "audit has not reached the inventory upload stage",
			"code":  "wrong_stage",
		})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds upload size limit"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open uploaded file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded file"})
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds upload size limit"})
		return
	}

	path := storage.InventoryPath(audit.ID, fileHeader.Filename)
	uploaded, err := h.uploader.Upload(c.Request.Context(), path, data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store inventory file"})
		return
	}
	if err := h.audits.SetInventory(c.Request.Context(), audit.ID, uploaded.Path, uploaded.Checksum, fileHeader.Filename); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record inventory file"})
		return
	}

	opts := ingest.SubmitOptions{
		Filename:   fileHeader.Filename,
		StrictMode: c.PostForm("strict_mode") == "true",
	}
	if userID, exists := c.Get("user_id"); exists {
		if uid, ok := userID.(string); ok {
			opts.Actor = uid
		}
	}

	jobID, err := h.ingestion.Submit(c.Request.Context(), audit, data, opts)
	if err != nil {
		if errors.Is(err, ingest.ErrDuplicateSubmission) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "this file was already submitted for this audit",
				"code":  "duplicate_submission",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start ingestion job"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// jobResponse is the wire shape of a compliance job.
type jobResponse struct {
	ID             string           `json:"id"`
	AuditID        string           `json:"audit_id"`
	Status         string           `json:"status"`
	SourceFilename string           `json:"source_filename"`
	SourceHash     string           `json:"source_hash"`
	StrictMode     bool             `json:"strict_mode"`
	RowCount       int              `json:"row_count"`
	RejectedRows   int              `json:"rejected_rows"`
	Stats          *models.JobStats `json:"stats,omitempty"`
	Error          *string          `json:"error,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

func toJobResponse(j *models.ComplianceJob) jobResponse {
	return jobResponse{
		ID:             j.ID,
		AuditID:        j.AuditID,
		Status:         j.Status,
		SourceFilename: j.SourceFilename,
		SourceHash:     j.SourceHash,
		StrictMode:     j.StrictMode,
		RowCount:       j.RowCount,
		RejectedRows:   j.RejectedRows,
		Stats:          j.Stats,
		Error:          j.Error,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

// @Summary      List ingestion jobs
// @Tags         Audits
// @Security     Bearer
// @Produce      json
// @Param        id      path   string  true   "Audit ID"
// @Param        limit   query  int     false  "Page size (default 20, max 100)"
// @Param        offset  query  int     false  "Offset"
// @Success      200  {object}  map[string]interface{}  "jobs"
// @Router       /api/v1/audits/{id}/jobs [get]
// ListJobs lists the audit's ingestion jobs, newest first.
// GET /api/v1/audits/:id/jobs
func (h *Handlers) ListJobs(c *gin.Context) {
	limit, offset := pagination(c)

	jobs, err := h.jobs.ListJobs(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":   out,
		"limit":  limit,
		"offset": offset,
	})
}

// trailEventResponse is the wire shape of one trail event.
type trailEventResponse struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Before    *string                `json:"before,omitempty"`
	After     *string                `json:"after,omitempty"`
	Actor     *string                `json:"actor,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// @Summary      List trail events
// @Description  Transition and ingestion history for the audit, newest first.
// @Tags         Audits
// @Security     Bearer
// @Produce      json
// @Param        id      path   string  true   "Audit ID"
// @Param        limit   query  int     false  "Page size (default 20, max 100)"
// @Param        offset  query  int     false  "Offset"
// @Success      200  {object}  map[string]interface{}  "events, total"
// @Router       /api/v1/audits/{id}/trail [get]
// ListTrail pages through the audit's trail.
// GET /api/v1/audits/:id/trail
func (h *Handlers) ListTrail(c *gin.Context) {
	limit, offset := pagination(c)

	events, total, err := h.trail.ListEvents(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trail events"})
		return
	}

	out := make([]trailEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, trailEventResponse{
			ID:        e.ID,
			Type:      e.Type,
			Before:    e.Before,
			After:     e.After,
			Actor:     e.Actor,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"events": out,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// pagination reads limit/offset query parameters. Limit is capped at 100.
func pagination(c *gin.Context) (limit, offset int) {
	limit = 20
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > 100 {
		limit = 100
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
