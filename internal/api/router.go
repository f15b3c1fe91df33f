// Package api wires together all HTTP routes for the audit portal backend.
//
// Route grouping:
//   - /health, /ready, /version are unauthenticated so load balancers and
//     deployment tooling can probe the service without credentials.
//   - Everything under /api/v1/ requires authentication and a role check.
//     Read endpoints accept the viewer role; mutating endpoints require
//     auditor (admin passes every check).
package api

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/audit-portal/audit-portal/internal/api/audits"
	"github.com/audit-portal/audit-portal/internal/api/compliance"
	"github.com/audit-portal/audit-portal/internal/auth"
	"github.com/audit-portal/audit-portal/internal/config"
	"github.com/audit-portal/audit-portal/internal/db/models"
	"github.com/audit-portal/audit-portal/internal/db/repositories"
	"github.com/audit-portal/audit-portal/internal/ingest"
	"github.com/audit-portal/audit-portal/internal/jobs"
	"github.com/audit-portal/audit-portal/internal/middleware"
	"github.com/audit-portal/audit-portal/internal/notify"
	"github.com/audit-portal/audit-portal/internal/report"
	"github.com/audit-portal/audit-portal/internal/safego"
	"github.com/audit-portal/audit-portal/internal/scoring"
	"github.com/audit-portal/audit-portal/internal/storage"
	"github.com/audit-portal/audit-portal/internal/trail"
	"github.com/audit-portal/audit-portal/internal/workflow"

	// Import storage backends to register them
	_ "github.com/audit-portal/audit-portal/internal/storage/local"
	_ "github.com/audit-portal/audit-portal/internal/storage/s3"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) calls
// Shutdown after the HTTP server has drained.
type BackgroundServices struct {
	sweeper          *jobs.StaleJobSweeper
	thresholdWatcher *config.ThresholdWatcher
	trailRecorder    *trail.Recorder
	rateLimiter      *middleware.RedisRateLimiter
}

// Shutdown stops all background goroutines and flushes the trail shippers.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	if bg.thresholdWatcher != nil {
		bg.thresholdWatcher.Stop()
	}
	if bg.trailRecorder != nil {
		if err := bg.trailRecorder.Close(); err != nil {
			slog.Warn("closing trail recorder", "error", err)
		}
	}
	if bg.rateLimiter != nil {
		if err := bg.rateLimiter.Close(); err != nil {
			slog.Warn("closing rate limiter", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router together with every
// collaborator behind it.
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	logger := slog.Default()
	bg := &BackgroundServices{}

	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	log.Printf("Initialized storage backend: %s", cfg.Storage.DefaultBackend)

	// Repositories
	auditRepo := repositories.NewAuditRepository(db)
	jobRepo := repositories.NewJobRepository(db)
	trailRepo := repositories.NewTrailRepository(db)

	sqlxDB := sqlx.NewDb(db, "postgres")
	documentRepo := repositories.NewDocumentRepository(sqlxDB)
	reviewRepo := repositories.NewReviewRepository(sqlxDB)
	thresholdRepo := repositories.NewThresholdRepository(sqlxDB)

	// Seed threshold profiles from the defaults file and optionally keep
	// them in sync with edits to that file. Existing audits are unaffected:
	// their threshold snapshot was frozen at creation.
	if cfg.Thresholds.DefaultsFile != "" {
		defaults, err := config.LoadThresholdDefaults(cfg.Thresholds.DefaultsFile)
		if err != nil {
			log.Fatalf("Failed to load threshold defaults: %v", err)
		}
		upsertThresholdProfiles(thresholdRepo, defaults, logger)

		if cfg.Thresholds.WatchDefaults {
			watcher, err := config.NewThresholdWatcher(cfg.Thresholds.DefaultsFile, func(profiles map[string]*models.ThresholdSet) {
				upsertThresholdProfiles(thresholdRepo, profiles, logger)
			}, logger)
			if err != nil {
				log.Fatalf("Failed to watch threshold defaults: %v", err)
			}
			watcher.Start()
			bg.thresholdWatcher = watcher
			log.Printf("Watching threshold defaults file: %s", cfg.Thresholds.DefaultsFile)
		}
	}

	// Trail recorder with optional external shipping
	shippers, err := trail.BuildShippers(cfg.Trail.Shippers)
	if err != nil {
		log.Fatalf("Failed to build trail shippers: %v", err)
	}
	recorder := trail.NewRecorder(trailRepo, shippers, logger)
	bg.trailRecorder = recorder

	// Collaborators behind the automatic actions
	notifier := notify.NewSMTPNotifier(&cfg.Notifications, nil, logger)
	scorer := scoring.NewClient(&cfg.Scoring, logger)
	reporter := report.NewGenerator(jobRepo, reviewRepo, reviewRepo, storageBackend, logger)
	pipeline := ingest.NewPipeline(jobRepo, recorder, logger, cfg.Ingestion.Workers)

	executor := workflow.NewExecutor(workflow.ExecutorDeps{
		Notifier: notifier,
		Scorer:   scorer,
		Reports:  reporter,
		Storage:  storageBackend,
		Pipeline: pipeline,
		Archiver: auditRepo,
		Progress: auditRepo,
	}, cfg.Workflow.ActionTimeout, logger)

	guards := workflow.NewGuardRegistry(documentRepo, jobRepo, reviewRepo, reviewRepo)
	orchestrator := workflow.NewOrchestrator(auditRepo, guards, executor, recorder, logger)

	// Stale-job sweeper
	sweeper := jobs.NewStaleJobSweeper(jobRepo, cfg.Ingestion.SweepInterval, cfg.Ingestion.JobDeadline, logger)
	safego.Go(func() { sweeper.Start(context.Background()) })
	bg.sweeper = sweeper
	log.Printf("Stale job sweeper started (interval %s, deadline %s)", cfg.Ingestion.SweepInterval, cfg.Ingestion.JobDeadline)

	authManager, err := auth.NewManager(&cfg.Auth)
	if err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}

	// Middleware
	router.MaxMultipartMemory = int64(cfg.Ingestion.MaxUploadSizeMB) * 1024 * 1024
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware())

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes storage backend probe)
	router.GET("/ready", readinessHandler(db, storageBackend))

	// API version
	router.GET("/version", versionHandler())

	// Authenticated API surface
	v1 := router.Group("/api/v1")

	if cfg.Security.RateLimiting.Enabled {
		limiter := middleware.NewRedisRateLimiter(&cfg.Redis)
		bg.rateLimiter = limiter
		v1.Use(middleware.RateLimitMiddleware(limiter, middleware.DefaultRateLimitConfig(&cfg.Security.RateLimiting)))
	}
	v1.Use(middleware.AuthMiddleware(authManager, cfg.Auth.ServiceTokenHash))

	auditHandlers := audits.NewHandlers(
		auditRepo, thresholdRepo, orchestrator, pipeline, storageBackend,
		jobRepo, trailRepo, cfg.Thresholds.DefaultProfile, cfg.Ingestion.MaxUploadSizeMB,
	)
	jobHandlers := compliance.NewHandlers(pipeline)

	read := middleware.RequireRole(auth.RoleViewer, auth.RoleAuditor)
	write := middleware.RequireRole(auth.RoleAuditor)

	v1.POST("/audits", write, auditHandlers.CreateAudit)
	v1.GET("/audits/:id", read, auditHandlers.GetAudit)
	v1.GET("/audits/:id/workflow", read, auditHandlers.GetWorkflowStatus)
	v1.POST("/audits/:id/advance", write, auditHandlers.AdvanceStage)
	v1.GET("/audits/:id/jobs", read, auditHandlers.ListJobs)
	v1.GET("/audits/:id/trail", read, auditHandlers.ListTrail)

	inventory := v1.Group("")
	if bg.rateLimiter != nil {
		inventory.Use(middleware.RateLimitMiddleware(bg.rateLimiter, middleware.UploadRateLimitConfig()))
	}
	inventory.POST("/audits/:id/inventory", write, auditHandlers.SubmitInventory)

	v1.GET("/jobs/:id", read, jobHandlers.GetJob)
	v1.POST("/jobs/:id/cancel", write, jobHandlers.CancelJob)

	return router, bg
}

// upsertThresholdProfiles writes the profile set to the DB. Individual
// failures are logged and skipped so one bad profile does not block the rest.
func upsertThresholdProfiles(repo *repositories.ThresholdRepository, profiles map[string]*models.ThresholdSet, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for name, rules := range profiles {
		if err := repo.UpsertProfile(ctx, name, rules); err != nil {
			logger.Error("failed to upsert threshold profile",
				"profile", name,
				"error", err)
			continue
		}
	}
	logger.Info("threshold profiles synced", "count", len(profiles))
}

// healthCheckHandler reports process liveness and DB reachability.
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler additionally probes the storage backend so a misconfigured
// bucket keeps the instance out of rotation.
func readinessHandler(db *sql.DB, store storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		checks := gin.H{}
		ready := true

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unreachable"
			ready = false
		} else {
			checks["database"] = "ok"
		}

		if _, err := store.Exists(ctx, "readiness-probe"); err != nil {
			checks["storage"] = "unreachable"
			ready = false
		} else {
			checks["storage"] = "ok"
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  ready,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.Any("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS for the configured frontend origins.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
