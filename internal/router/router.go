package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/ujian/internal/config"
	"github.com/stemsi/ujian/internal/handler"
	"github.com/stemsi/ujian/internal/metrics"
	"github.com/stemsi/ujian/internal/middleware"
	"github.com/stemsi/ujian/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	Participant *handler.ParticipantHandler
	WS          *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds the rate limiters' background sweeps.
func SetupRouter(
	ctx context.Context,
	tokens middleware.TokenValidator,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.GinMode == gin.DebugMode {
		router.Use(gin.Logger())
	}

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.Middleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	loginLimiter := middleware.NewRateLimiter(ctx, cfg.LoginRateLimit, cfg.RateLimitWindow)
	startLimiter := middleware.NewRateLimiter(ctx, cfg.StartRateLimit, cfg.RateLimitWindow)

	// ─── 0. Public Group (No Auth) ─────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/participant/login", loginLimiter.Middleware(middleware.ByIP), handlers.Auth.ParticipantLogin)
	}

	// ─── 1. Participant Group (JWT) ────────────────────────────────────
	participantAPI := router.Group("/api/v1/participant")
	participantAPI.Use(
		middleware.RequireParticipantJWT(tokens),
		middleware.NoStore(),
	)
	{
		participantAPI.GET("/exams/:exam_id", handlers.Participant.GetExam)
		participantAPI.POST("/exams/:exam_id/start",
			startLimiter.Middleware(middleware.ByParticipantExam),
			handlers.Participant.StartExam,
		)
		participantAPI.GET("/exams/:exam_id/questions", middleware.Brotli(), handlers.Participant.GetQuestions)
		participantAPI.PUT("/exams/:exam_id/answers", handlers.Participant.SaveAnswer)
		participantAPI.POST("/exams/:exam_id/submit", handlers.Participant.SubmitExam)
	}

	// ─── 2. WebSocket Group (JWT via ?token=) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireParticipantWSAuth(tokens))
	{
		ws.GET("/participant/exams/:exam_id/stream", handlers.WS.ExamStream)
	}

	return router
}
