// Package telemetry provides application-level observability for the audit portal.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<AUD_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped by a Prometheus server every 15–60 seconds.
// It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Workflow transition counters (by target state and outcome) and automatic-action failures
//   - Ingestion job duration, processed-row counters, and an active-jobs gauge
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/audits/:id/advance)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as audit or job IDs.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template, NOT the raw URL.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s. Use histogram_quantile to compute latency percentiles.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Workflow metrics, recorded by the orchestrator on every advance attempt.
//
// WorkflowTransitionsTotal is a CounterVec with labels {to_state, outcome}.
// outcome is one of "ok", "degraded" (stage advanced but an automatic action
// failed), "rejected" (guard said no), or "stale" (optimistic stage check lost).
//
// Example PromQL queries:
//   - Transition throughput:        sum by (to_state) (rate(workflow_transitions_total{outcome="ok"}[1h]))
//   - Guard rejection ratio:        sum(rate(workflow_transitions_total{outcome="rejected"}[1h])) / sum(rate(workflow_transitions_total[1h]))
//
// WorkflowActionFailuresTotal counts individual automatic-action failures by
// action name, which is a small fixed set. A sustained non-zero rate on a
// blocking action is an alert-worthy signal because those leave transitions
// flagged degraded.
var (
	WorkflowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Total number of stage advance attempts, by target state and outcome.",
		},
		[]string{"to_state", "outcome"},
	)

	WorkflowActionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_action_failures_total",
			Help: "Total number of failed automatic actions, by action name.",
		},
		[]string{"action"},
	)
)

// Ingestion metrics, recorded by the compliance ingestion pipeline.
//
// IngestionJobDuration observes the wall-clock time of one complete ingestion
// job (parse, resolve, normalize, evaluate, score, persist) with label {status}
// ("completed", "failed", "cancelled").
//
// IngestionRowsTotal counts processed rows by result ("compliant",
// "non_compliant", "rejected"). Rejected rows are non-compliant rows excluded
// from persisted output by strict mode.
//
// IngestionActiveJobs is a Gauge of currently running jobs; alert when it sits
// at the configured worker capacity for extended periods.
var (
	IngestionJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestion_job_duration_seconds",
			Help:    "Duration of a single compliance ingestion job, by final status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	IngestionRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_rows_total",
			Help: "Total number of inventory rows processed, by compliance result.",
		},
		[]string{"result"},
	)

	IngestionActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestion_active_jobs",
			Help: "Number of ingestion jobs currently running.",
		},
	)
)

// TrailShipFailuresTotal counts audit-trail records that could not be delivered
// to an external shipper. Trail shipping is fire-and-forget, so this counter is
// the only place delivery problems surface.
var TrailShipFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "trail_ship_failures_total",
		Help: "Total number of audit-trail entries that failed to ship to an external destination.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
