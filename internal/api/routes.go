package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes on the given router.
// metrics may be nil, in which case /metrics is not served.
func SetupRoutes(router *gin.Engine, handler *Handler, hub *Hub, metrics http.Handler) {
	v1 := router.Group("/api/v1")
	{
		// System endpoints
		v1.GET("/status", handler.GetStatus)
		v1.GET("/config", handler.GetConfig)

		// Target endpoints
		v1.GET("/targets", handler.GetTargets)
		v1.POST("/targets", handler.AddTarget)
		v1.GET("/targets/:name", handler.GetTarget)
		v1.DELETE("/targets/:name", handler.DeleteTarget)
		v1.GET("/targets/:name/events", handler.GetTargetEvents)
		v1.GET("/targets/:name/history", handler.GetTargetHistory)

		if hub != nil {
			v1.GET("/ws", ServeWebSocket(hub))
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
}
