// Package middleware provides Gin HTTP middleware for request tracing,
// metrics, authentication, security headers, and rate limiting.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → SecurityHeaders → RateLimit → Auth → Handler
//
// The request ID is assigned first so every downstream log line and error
// response can carry it. Rate limiting runs before auth so brute-force
// attempts are rejected before any token validation work.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request ID.
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin.Context key under which the request ID is stored.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware assigns each request a unique ID. When an upstream
// proxy already supplied one in X-Request-ID it is reused so traces stay
// joined across hops; otherwise a fresh UUID is generated. The ID is stored
// in the context and echoed in the response header.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}
