package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/audit-portal/audit-portal/internal/auth"
)

// Context keys populated by AuthMiddleware.
const (
	UserIDKey     = "user_id"
	RoleKey       = "role"
	AuthMethodKey = "auth_method"
)

// AuthMiddleware validates the Authorization header. Two credential kinds are
// accepted, both as "Bearer <token>":
//
//   - portal JWTs issued by auth.Manager, carrying a user ID and role
//   - the shared service token ("aud_..." prefix), used by automation
//     clients such as the scoring service and ingestion scripts
//
// JWT validation is attempted first because it is purely cryptographic.
// The service token path runs a bcrypt comparison, which is deliberately
// slow, so it is only tried for tokens carrying the service prefix.
// Service-token requests act with the admin role.
func AuthMiddleware(mgr *auth.Manager, serviceTokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		if claims, err := mgr.ValidateToken(token); err == nil {
			c.Set(UserIDKey, claims.UserID)
			c.Set(RoleKey, claims.Role)
			c.Set(AuthMethodKey, "jwt")
			c.Next()
			return
		}

		if strings.HasPrefix(token, auth.ServiceTokenPrefix+"_") &&
			auth.ValidateServiceToken(token, serviceTokenHash) {
			c.Set(UserIDKey, "service")
			c.Set(RoleKey, auth.RoleAdmin)
			c.Set(AuthMethodKey, "service_token")
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid credentials",
		})
	}
}

// RequireRole aborts with 403 unless the authenticated role is one of the
// given roles. Admin passes every check so handlers only list the weakest
// role that may call them.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleVal, exists := c.Get(RoleKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			return
		}

		role, ok := roleVal.(string)
		if !ok || role == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			return
		}

		if role == auth.RoleAdmin {
			c.Next()
			return
		}

		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "Missing required role",
			"details": "One of: " + strings.Join(roles, ", "),
		})
	}
}

// bearerToken extracts the Bearer token from the Authorization header,
// aborting the request with 401 when the header is missing or malformed.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Missing authorization header",
		})
		return "", false
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Authorization header must start with 'Bearer '",
		})
		return "", false
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Authorization token is empty",
		})
		return "", false
	}

	return token, true
}
