package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/novamarket/predictcore/internal/auth"
	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/metrics"
)

// RegisterRoutes wires every endpoint of spec §6 onto router, following
// the teacher's api.RegisterRoutes grouping convention (one /api/v1 group,
// one sub-handler per concern) generalized with JWT auth applied per-route
// rather than once for the whole group, since auth/register/login and the
// public order-book read must stay anonymous.
func RegisterRoutes(router *gin.Engine, h *Handlers, authSvc *auth.Service, m *metrics.Metrics, logger *zap.Logger) {
	router.Use(SecurityHeaders(), CORSMiddleware(), RequestLogger(logger))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	v1.Use(RateLimit(600))

	authGroup := v1.Group("/auth")
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)

	v1.GET("/markets/:id/book", h.GetOrderBookSnapshot)

	authed := v1.Group("/")
	authed.Use(auth.JWTAuth(authSvc, logger))

	authed.POST("/orders", RateLimit(120), h.SubmitOrder)
	authed.DELETE("/orders/:id", h.CancelOrder)
	authed.GET("/markets/:id/stats", h.GetMarketStats)
	authed.GET("/me/balance", h.GetUserBalance)
	authed.GET("/me/positions", h.GetUserPositions)

	admin := authed.Group("/admin")
	admin.Use(auth.RequireRole(domain.RoleAdmin))
	admin.POST("/markets/:id/resolve", h.ResolveMarket)
	admin.POST("/markets/:id/close", h.CloseMarket)
}
