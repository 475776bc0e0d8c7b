package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/confingest/internal/api/handler"
	"github.com/timmy/confingest/internal/api/middleware"
	"github.com/timmy/confingest/internal/logger"
	"github.com/timmy/confingest/internal/metrics"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Jobs        handler.JobReader
	Queue       handler.JobQueue
	DB          handler.Pinger
	Metrics     *metrics.Metrics
	MetricsPath string
	Logger      *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Deps, mode string) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))

	healthHandler := handler.NewHealthHandler(deps.DB)
	jobHandler := handler.NewJobHandler(deps.Jobs, deps.Queue)

	r.GET("/health", healthHandler.Health)
	if deps.Metrics != nil && deps.Metrics.Registry() != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(deps.Metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/jobs/:id", jobHandler.GetJob)
		v1.POST("/jobs/:id/trigger", jobHandler.Trigger)
	}

	return r
}
