package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-portal/audit-portal/internal/telemetry"
)

// MetricsMiddleware records two Prometheus metrics for every request that
// passes through the router:
//
//   - http_requests_total{method, path, status}
//   - http_request_duration_seconds{method, path}
//
// The path label is set from c.FullPath(), which returns the matched route
// template (e.g. /api/v1/audits/:id/advance) rather than the raw URL.
// Requests that match no registered route use the literal "<no-route>" so
// probes against random paths do not inflate label cardinality.
//
// Register this after gin.Recovery and RequestIDMiddleware so the status
// written by error handlers is the one that gets recorded.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
