package routes

import (
	"github.com/gin-gonic/gin"

	"example.com/backstage/services/taskstatus/internal/api/handlers"
)

// SetupRoutes sets up all the routes for the server
func SetupRoutes(r *gin.Engine, statusHandler *handlers.StatusHandler, metricsHandler *handlers.MetricsHandler) {
	// Health and metrics
	r.GET("/health", metricsHandler.HandleGetHealthCheck)
	r.GET("/metrics", metricsHandler.HandleGetMetrics)

	api := r.Group("/api/v1")

	api.GET("/statuses/:uid", statusHandler.HandleGetStatus)

	users := api.Group("/users/:userUid")
	users.GET("/summary", statusHandler.HandleGetSummary)
	users.GET("/feedback", statusHandler.HandleGetFeedback)

	api.POST("/events/:kind", statusHandler.HandlePostEvent)
}
