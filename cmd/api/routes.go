package main

import (
	"context"
	"net/http"

	"callhub/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, health func(context.Context) error) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks: shared-secret header instead of bearer auth.
	r.POST("/webhooks/rooms", h.ProviderWebhook)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		calls := v1.Group("/calls")
		{
			calls.POST("/start", h.StartCall)
			calls.PUT("/join/:call_id", h.JoinCall)
			calls.PUT("/leave/:call_id", h.LeaveCall)
			calls.PUT("/end/:call_id", h.EndCall)
			calls.GET("/:call_id", h.GetCall)
			calls.POST("/:call_id/recording/start", h.StartRecording)
			calls.POST("/:call_id/recording/stop", h.StopRecording)
		}

		v1.GET("/channels/:channel_id/calls", h.ActiveChannelCalls)
	}
}
