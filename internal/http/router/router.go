package router

import (
	"github.com/gin-gonic/gin"

	"github.com/agentpay/escrow-engine/internal/config"
	"github.com/agentpay/escrow-engine/internal/http/handlers"
	"github.com/agentpay/escrow-engine/internal/http/middleware"
	"github.com/agentpay/escrow-engine/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	escrowHandler *handlers.EscrowHandler,
	statsHandler *handlers.StatsHandler,
	transactionHandler *handlers.TransactionHandler,
	evidenceHandler *handlers.EvidenceHandler,
	walletHandler *handlers.WalletHandler,
	adminHandler *handlers.AdminHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	metrics *middleware.Metrics,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	if metrics != nil {
		r.Use(metrics.Middleware())
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitPeriod))

	// the websocket stream authenticates via query token on upgrade
	api.GET("/ws", wsHandler.Handle)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		agreements := protected.Group("/agreements")
		{
			agreements.POST("", escrowHandler.Create)
			agreements.GET("/my", escrowHandler.ListMy)

			withID := agreements.Group("/:id", middleware.UUIDValidator("id"))
			{
				withID.GET("", escrowHandler.Get)
				withID.GET("/milestones", escrowHandler.GetMilestones)
				withID.GET("/can-auto-release", escrowHandler.CanAutoRelease)
				withID.POST("/deposit", escrowHandler.Deposit)
				withID.POST("/milestones/:index/complete", escrowHandler.CompleteMilestone)
				withID.POST("/release", escrowHandler.Release)
				withID.POST("/dispute", escrowHandler.Dispute)
				if evidenceHandler != nil {
					withID.POST("/dispute/evidence", evidenceHandler.Upload)
					withID.GET("/dispute/evidence", evidenceHandler.List)
				}
				withID.POST("/resolve", escrowHandler.Resolve)
				withID.POST("/cancel", escrowHandler.Cancel)
				withID.POST("/auto-release", escrowHandler.AutoRelease)
			}
		}

		protected.GET("/stats", statsHandler.GetMyStats)
		if transactionHandler != nil {
			protected.GET("/transactions", transactionHandler.ListMy)
		}

		if walletHandler != nil {
			protected.GET("/wallet/balance", walletHandler.GetBalance)
			protected.POST("/wallet/deposit", walletHandler.TopUp)
		}

		admin := protected.Group("/admin")
		{
			admin.GET("/config", adminHandler.GetConfig)
			admin.PUT("/config/fee", adminHandler.SetFee)
			admin.POST("/tokens", adminHandler.IssueToken)
		}
	}

	return r
}
