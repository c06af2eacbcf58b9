package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/groupquiz-backend/internal/config"
	"github.com/stemsi/groupquiz-backend/internal/handler"
	"github.com/stemsi/groupquiz-backend/internal/middleware"
	"github.com/stemsi/groupquiz-backend/internal/model"
	"github.com/stemsi/groupquiz-backend/internal/response"
	"github.com/stemsi/groupquiz-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Manage  *handler.ManageHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background helpers such as the rate limiter's eviction loop.
func SetupRouter(
	ctx context.Context,
	tokens *service.TokenService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

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
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	pollLimiter := middleware.NewRateLimiter(ctx, cfg.PollRatePerMinute, time.Minute)

	// ─── 1. Group members (any authenticated role) ─────────────────────
	quizAPI := router.Group("/api/v1/quizzes/:quiz_id")
	quizAPI.Use(middleware.RequireJWT(tokens), middleware.NoStore())
	{
		quizAPI.GET("/attempt", handlers.Attempt.GetCurrent)
		quizAPI.POST("/attempt", handlers.Attempt.StartOrContinue)
		quizAPI.PUT("/attempt/answers", handlers.Attempt.SaveAnswer)
		quizAPI.POST("/attempt/poll", pollLimiter.Middleware(), handlers.Attempt.Poll)
		quizAPI.POST("/attempt/submit", handlers.Attempt.Submit)
		quizAPI.GET("/attempts", handlers.Attempt.ListOwn)
		quizAPI.GET("/attempts/:attempt_id/review", handlers.Attempt.Review)
	}

	// ─── 2. WebSocket (token in query) ─────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireJWT(tokens))
	{
		ws.GET("/quizzes/:quiz_id/attempt/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Instructors ────────────────────────────────────────────────
	manageAPI := router.Group("/api/v1/manage/quizzes/:quiz_id")
	manageAPI.Use(
		middleware.RequireJWT(tokens),
		middleware.RequireRole(model.RoleInstructor),
		middleware.NoStore(),
	)
	{
		manageAPI.GET("/attempts", handlers.Manage.ListAttempts)
		manageAPI.POST("/attempts/:attempt_id/regrade", handlers.Manage.RegradeAttempt)
		manageAPI.POST("/attempts/:attempt_id/abandon", handlers.Manage.Abandon)
		manageAPI.PUT("/attempts/:attempt_id/slots/:slot/grade", handlers.Manage.ManualGrade)
		manageAPI.POST("/regrade", handlers.Manage.RegradeQuiz)
		manageAPI.PUT("/grade", handlers.Manage.SetMaxGrade)
		manageAPI.GET("/monitor", handlers.Monitor.MonitorQuizSSE)
	}

	return router
}
