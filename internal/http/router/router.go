package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/config"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/http/handlers"
	"github.com/ignatzorin/freight-escrow/internal/http/middleware"
	"github.com/ignatzorin/freight-escrow/internal/service"
)

// Handlers набор хэндлеров, которые монтирует роутер.
type Handlers struct {
	Escrow         *handlers.EscrowHandler
	Match          *handlers.MatchHandler
	Reconciliation *handlers.ReconciliationHandler
	Health         *handlers.HealthHandler
	WS             *handlers.WSHandler
}

func SetupRouter(cfg *config.Config, h Handlers, tokenManager *service.TokenManager, log logrus.FieldLogger) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler(log))
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if h.WS != nil {
		r.GET("/api/ws", h.WS.Handle)
	}

	shipperOrAdmin := middleware.RequireRoles(valueobject.RoleShipper, valueobject.RoleAdmin)
	transporterOrAdmin := middleware.RequireRoles(valueobject.RoleTransporter, valueobject.RoleAdmin)
	adminOnly := middleware.RequireRoles(valueobject.RoleAdmin)
	validID := middleware.UUIDValidator("id")

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))
	api.Use(middleware.AuthMiddleware(tokenManager))
	{
		api.POST("/escrows", shipperOrAdmin, h.Escrow.Create)
		api.GET("/escrows/:id", validID, h.Escrow.Get)
		api.POST("/escrows/:id/transporter", validID, shipperOrAdmin, h.Escrow.AssignTransporter)
		api.POST("/escrows/:id/transitions", validID, h.Escrow.Transition)
		api.POST("/escrows/:id/dispute/resolve", validID, adminOnly, h.Escrow.ResolveDispute)
		api.GET("/escrows/:id/dispute", validID, h.Escrow.GetDispute)

		api.GET("/shipments/:id/escrows", validID, adminOnly, h.Escrow.ListByShipment)
		api.POST("/shipments/:id/matches", validID, shipperOrAdmin, h.Match.Propose)
		api.GET("/shipments/:id/matches", validID, shipperOrAdmin, h.Match.ListByShipment)

		api.GET("/matches/:id", validID, h.Match.Get)
		api.POST("/matches/:id/accept", validID, transporterOrAdmin, h.Match.Accept)
		api.POST("/matches/:id/reject", validID, transporterOrAdmin, h.Match.Reject)

		api.GET("/admin/reconciliation", adminOnly, h.Reconciliation.Report)
	}

	return r
}
