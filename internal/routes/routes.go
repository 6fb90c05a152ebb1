package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/quantara/signal-engine/internal/gateway"
)

// SetupRoutes configures all the routes for the application
func SetupRoutes(r *gin.Engine, h *gateway.Handler) {
	// API routes
	api := r.Group("/api/v1")
	{
		// Webhook endpoint, authenticated by the per-bot token
		api.POST("/webhook/:token", h.HandleWebhook)

		// Bot management endpoints
		bots := api.Group("/bots")
		{
			bots.GET("", h.GetBots)
			bots.POST("", h.CreateBot)
			bots.POST("/:id/activate", h.ActivateBot)
			bots.POST("/:id/rotate-token", h.RotateToken)
			bots.GET("/:id/trades", h.GetTrades)
		}

		// Analytics endpoints
		api.GET("/outcomes", h.GetOutcomes)
		api.GET("/insights", h.GetInsights)
		api.GET("/risk-events", h.GetRiskEvents)
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "signal-engine",
		})
	})

	// Root endpoint
	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Trading Signal Execution Engine",
			"version": "1.0.0",
			"endpoints": gin.H{
				"webhook":  "/api/v1/webhook/:token",
				"bots":     "/api/v1/bots",
				"insights": "/api/v1/insights",
				"health":   "/health",
			},
		})
	})
}
