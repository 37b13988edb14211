package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/showpls/showpls-backend/internal/config"
	"github.com/showpls/showpls-backend/internal/http/handlers"
	"github.com/showpls/showpls-backend/internal/http/middleware"
	"github.com/showpls/showpls-backend/internal/service"
)

// SetupRouter собирает все маршруты приложения.
func SetupRouter(
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	profileHandler *handlers.ProfileHandler,
	orderHandler *handlers.OrderHandler,
	escrowHandler *handlers.EscrowHandler,
	disputeHandler *handlers.DisputeHandler,
	ratingHandler *handlers.RatingHandler,
	tipHandler *handlers.TipHandler,
	chatHandler *handlers.ChatHandler,
	notificationHandler *handlers.NotificationHandler,
	mediaHandler *handlers.MediaHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Check)
	r.StaticFS("/media/proofs", http.Dir(cfg.ProofStoragePath))

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(5, cfg.RateLimitPeriod))
	{
		authGroup.POST("/telegram", authHandler.Telegram)
		authGroup.POST("/refresh", authHandler.Refresh)
	}

	auth := middleware.AuthMiddleware(tokenManager)

	profile := api.Group("/profile", auth)
	{
		profile.GET("", profileHandler.Get)
		profile.PUT("/wallet", profileHandler.ConnectWallet)
		profile.POST("/provider", profileHandler.BecomeProvider)
		profile.POST("/onboarding", profileHandler.CompleteOnboarding)
	}

	orders := api.Group("/orders", auth)
	{
		orders.POST("", orderHandler.Create)
		orders.GET("/user", orderHandler.ListMy)
		orders.GET("/nearby", orderHandler.ListNearby)
		orders.GET("/:id", middleware.UUIDValidator("id"), orderHandler.Get)
		orders.POST("/:id/accept", middleware.UUIDValidator("id"), orderHandler.Accept)
		orders.POST("/:id/progress", middleware.UUIDValidator("id"), orderHandler.Progress)
		orders.POST("/:id/deliver", middleware.UUIDValidator("id"), orderHandler.Deliver)

		orders.POST("/:id/dispute", middleware.UUIDValidator("id"), disputeHandler.Open)
		orders.GET("/:id/disputes", middleware.UUIDValidator("id"), disputeHandler.ListByOrder)

		orders.POST("/:id/tip", middleware.UUIDValidator("id"), tipHandler.Create)
		orders.GET("/:id/tips", middleware.UUIDValidator("id"), tipHandler.ListByOrder)

		orders.GET("/:id/messages", middleware.UUIDValidator("id"), chatHandler.List)
		orders.POST("/:id/messages", middleware.UUIDValidator("id"), chatHandler.Post)
	}

	// Денежные маршруты получают отдельный, более строгий лимит.
	escrow := api.Group("/escrow", auth)
	escrow.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		escrow.POST("/create", escrowHandler.Create)
		escrow.POST("/fund", escrowHandler.Fund)
		escrow.POST("/verify-funding", escrowHandler.VerifyFunding)
		escrow.POST("/release", escrowHandler.Release)
		escrow.POST("/refund", escrowHandler.Refund)
		escrow.POST("/pause", escrowHandler.Pause)
	}

	disputes := api.Group("/disputes", auth)
	{
		disputes.PUT("/:id/evidence", middleware.UUIDValidator("id"), disputeHandler.AddEvidence)
		disputes.POST("/:id/resolve", middleware.UUIDValidator("id"), disputeHandler.Resolve)
	}

	api.POST("/ratings", auth, ratingHandler.Create)
	api.GET("/users/:id/ratings", auth, middleware.UUIDValidator("id"), ratingHandler.ListByUser)

	notifications := api.Group("/notifications", auth)
	{
		notifications.GET("", notificationHandler.List)
		notifications.PUT("/read-all", notificationHandler.MarkAllRead)
		notifications.PUT("/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkRead)
	}

	api.POST("/media/proofs", auth, mediaHandler.UploadProof)
	api.GET("/ws", wsHandler.Handle)

	return r
}
