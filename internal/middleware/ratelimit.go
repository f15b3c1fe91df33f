// ratelimit.go implements per-client request rate limiting backed by Redis.
// Counters live in Redis (GCRA via redis_rate) so limits hold across portal
// replicas instead of resetting whenever a single instance restarts.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/audit-portal/audit-portal/internal/config"
)

// RateLimitConfig holds the limit applied by one RateLimitMiddleware instance.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained request rate allowed per client
	RequestsPerMinute int
	// Burst is the number of requests a client may send at once before
	// the sustained rate applies
	Burst int
}

// DefaultRateLimitConfig builds the API-wide limit from configuration.
func DefaultRateLimitConfig(cfg *config.RateLimitingConfig) RateLimitConfig {
	burst := cfg.Burst
	if burst < 1 {
		burst = cfg.RequestsPerMinute
	}
	return RateLimitConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             burst,
	}
}

// UploadRateLimitConfig returns a tighter limit for spreadsheet uploads.
// Each upload spawns an ingestion job, so the ceiling is much lower than
// for reads.
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		Burst:             3,
	}
}

// Allower is the slice of redis_rate.Limiter the middleware needs. Tests
// substitute a fake so they run without a Redis server.
type Allower interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

// RedisRateLimiter owns the Redis client backing the limiter so the caller
// has a single handle to close during shutdown.
type RedisRateLimiter struct {
	client  *redis.Client
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter connects to Redis using the portal configuration.
// The connection is lazy; a Redis that is down at boot only surfaces as
// failed Allow calls, which the middleware treats as fail-open.
func NewRedisRateLimiter(cfg *config.RedisConfig) *RedisRateLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisRateLimiter{
		client:  client,
		limiter: redis_rate.NewLimiter(client),
	}
}

// Allow implements Allower.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	return r.limiter.Allow(ctx, key, limit)
}

// Close releases the underlying Redis connection pool.
func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}

// RateLimitMiddleware enforces cfg against each client key. A Redis error
// fails open: a broken limiter must not take audit operations down with it.
func RateLimitMiddleware(limiter Allower, cfg RateLimitConfig) gin.HandlerFunc {
	limit := redis_rate.Limit{
		Rate:   cfg.RequestsPerMinute,
		Burst:  cfg.Burst,
		Period: time.Minute,
	}

	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		res, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request",
				"key", key,
				"error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if res.Allowed == 0 {
			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting.
// Priority: authenticated user > client IP.
func getRateLimitKey(c *gin.Context) string {
	if userID, exists := c.Get(UserIDKey); exists {
		if id, ok := userID.(string); ok && id != "" {
			return "ratelimit:user:" + id
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ratelimit:ip:" + ip
}
