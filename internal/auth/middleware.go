package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/novamarket/predictcore/internal/domain"
)

// ContextUserIDKey/ContextRoleKey are the gin.Context keys JWTAuth sets,
// matching the teacher's AuthMiddleware convention (internal/auth/
// middleware.go: c.Set("user_id", ...)).
const (
	ContextUserIDKey = "user_id"
	ContextRoleKey   = "role"
)

// JWTAuth validates the bearer token on every request, rejecting with 401
// on a missing or invalid header (spec §4.5's "authenticates... using an
// opaque bearer token" applies identically to the REST boundary here).
func JWTAuth(svc *Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header must be 'Bearer <token>'"})
			c.Abort()
			return
		}
		claims, err := svc.ValidateToken(parts[1])
		if err != nil {
			logger.Warn("jwt validation failed", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}
		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextRoleKey, claims.Role)
		c.Next()
	}
}

// RequireRole aborts with 403 unless the authenticated user holds role
// (used to gate the admin ResolveMarket/CloseMarket endpoints, spec §6).
func RequireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ContextRoleKey)
		if !ok || v.(domain.Role) != role {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			c.Abort()
			return
		}
		c.Next()
	}
}
