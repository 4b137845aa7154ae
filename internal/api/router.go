package api

import (
	"github.com/gin-gonic/gin"

	"github.com/atelier3d/atelier/internal/api/handler"
	"github.com/atelier3d/atelier/internal/api/middleware"
	"github.com/atelier3d/atelier/internal/logger"
)

// RouterConfig bundles the handler dependencies and server options.
type RouterConfig struct {
	Mode string
	CORS middleware.CORSConfig

	Jobs    *handler.JobHandler
	Webhook *handler.WebhookHandler
	Poll    *handler.PollHandler
}

// SetupRouter configures the Gin router with all routes.
// Parameters:
//   - log: base logger for the request middleware.
//   - cfg: handlers and server options.
// Returns:
//   - *gin.Engine: configured router.
func SetupRouter(log *logger.Logger, cfg *RouterConfig) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check
	healthHandler := handler.NewHealthHandler()
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Jobs
		v1.POST("/jobs", cfg.Jobs.CreateJob)
		v1.GET("/jobs", cfg.Jobs.ListJobs)
		v1.GET("/jobs/:id", cfg.Jobs.GetJob)

		// Stats
		v1.GET("/stats", cfg.Jobs.GetStats)

		// Completion paths: push from upstream, pull trigger for schedulers
		v1.POST("/webhooks/compute", cfg.Webhook.ComputeWebhook)
		v1.POST("/poll", cfg.Poll.TriggerPoll)
	}

	return r
}
