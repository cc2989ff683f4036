package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt    *handler.AttemptHandler
	Assessment *handler.AssessmentHandler
	Monitor    *handler.MonitorHandler
	WS         *handler.WSHandler
	System     *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// The returned limiter must be stopped on shutdown.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) (*gin.Engine, *middleware.RateLimiter) {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Skipper: middleware.SkipPathPrefixes("/ws/"),
	}))

	router.GET("/health", handlers.System.Health)

	// Violation reports arrive in bursts from misbehaving clients; the
	// controller deduplicates, this guards the server against the rest.
	violationLimiter := middleware.NewRateLimiter(cfg.ViolationRateLimit, time.Minute).ByIPAndParam("id")

	// ─── 1. Student Group (Student JWT) ────────────────────────────────
	student := router.Group("/api/v1")
	student.Use(middleware.RequireStudentJWT(authService), middleware.NoStore())
	{
		assessment := student.Group("/assessment/:id")
		assessment.POST("/start", handlers.Attempt.Start)
		assessment.GET("", handlers.Attempt.GetConfig)
		assessment.GET("/questions", handlers.Attempt.GetQuestions)
		assessment.POST("/submit", handlers.Attempt.Submit)

		attempt := student.Group("/assessment-attempt/:id")
		attempt.POST("/tab-switch", violationLimiter.Middleware(), handlers.Attempt.RecordTabSwitch)
		attempt.PATCH("/fullscreen-exit", violationLimiter.Middleware(), handlers.Attempt.RecordFullscreenExit)
		attempt.POST("/save-code", handlers.Attempt.SaveCode)
		attempt.POST("/save-quiz-answer", handlers.Attempt.SaveQuizAnswer)
		attempt.POST("/save-frontend-code", handlers.Attempt.SaveFrontendCode)
		attempt.GET("/answers", handlers.Attempt.GetAnswers)
	}

	// ─── 2. Admin Group (Admin JWT + RBAC) ─────────────────────────────
	admin := router.Group("/api/v1/admin")
	admin.Use(middleware.RequireAdminJWT(authService))
	{
		admin.GET("/assessments",
			middleware.RequireAnyPermission(model.PermissionAssessmentsRead, model.PermissionAssessmentsMonitor),
			handlers.Assessment.ListAssessments)
		admin.GET("/assessments/:id",
			middleware.RequireAnyPermission(model.PermissionAssessmentsRead, model.PermissionAssessmentsMonitor),
			handlers.Assessment.GetAssessment)
		admin.GET("/assessments/:id/monitor",
			middleware.RequirePermission(model.PermissionAssessmentsMonitor),
			handlers.Monitor.MonitorAssessmentSSE)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/assessment-attempt/:id/proctor", handlers.WS.ProctorStream)
	}

	return router, violationLimiter
}
