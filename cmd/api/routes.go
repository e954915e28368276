package main

import (
	"dialer-platform/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// CAMPAIGN routes
		campaignGroup := v1.Group("/campaigns")
		{
			campaignGroup.POST("", h.CreateCampaign)
			campaignGroup.GET("/:campaign_id", h.GetCampaign)
			campaignGroup.POST("/:campaign_id/start", h.StartCampaign)
			campaignGroup.POST("/:campaign_id/status", h.SetCampaignStatus)
			campaignGroup.GET("/:campaign_id/call-logs", h.ListCallLogs)
		}

		// CREDIT routes
		creditGroup := v1.Group("/credits")
		{
			creditGroup.GET("/balance", h.GetCreditBalance)
			creditGroup.POST("/topup", h.TopUpCredits)
		}
	}
}
