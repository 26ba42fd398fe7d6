// Package api is the REST boundary of spec §6's External Interfaces:
// SubmitOrder, CancelOrder, GetOrderBookSnapshot, GetUserBalance,
// GetUserPositions, plus the admin ResolveMarket/CloseMarket pair, and the
// Register/Login pair this build adds so the boundary is self-contained.
// Grounded on the teacher's internal/api (module.go's gin.Engine wiring,
// middleware/security.go's CORS/RateLimiter/SecurityHeaders trio,
// handlers/order_handler.go's request/response shape).
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	limiterMemory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// CORSMiddleware permits browser-based clients to reach the API from any
// origin, the way the teacher's SecurityMiddleware.CORS does, delegated to
// gin-contrib/cors rather than hand-rolled headers since that library is
// already in the dependency set.
func CORSMiddleware() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization")
	cfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	return cors.New(cfg)
}

// SecurityHeaders adds the fixed response headers the teacher's
// SecurityMiddleware.SecurityHeaders sets on every response.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'self'")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// RateLimit caps requests per client IP, mirroring the teacher's
// SecurityMiddleware.RateLimiter (ulule/limiter/v3 + an in-memory store),
// generalized to an injectable rate so order-submission endpoints can be
// throttled tighter than read-only ones.
func RateLimit(perMinute int64) gin.HandlerFunc {
	rate := limiter.Rate{Period: time.Minute, Limit: perMinute}
	lim := limiter.New(limiterMemory.NewStore(), rate)
	return func(c *gin.Context) {
		limCtx, err := lim.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(limCtx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(limCtx.Remaining, 10))
		if limCtx.Reached {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request at the access-log granularity
// the teacher's RequestID middleware uses.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
