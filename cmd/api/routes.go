package main

import (
	"database/sql"

	"github.com/gin-gonic/gin"

	"voiceagent-platform/internal/ari"
	"voiceagent-platform/internal/httpapi"
	"voiceagent-platform/internal/tools"
)

type routeDeps struct {
	handlers    httpapi.Handlers
	toolWebhook *tools.WebhookHandler
	mediaHub    *ari.MediaHub
	db          *sql.DB
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", deps.handlers.Healthz(deps.db))

	// Telephony server media dial-back. Authenticated by possession of the
	// per-call media URL; the hub rejects unexpected channel IDs.
	r.GET("/media/:channel_id", func(c *gin.Context) {
		deps.mediaHub.HandleUpgrade(c.Writer, c.Request, c.Param("channel_id"))
	})

	// Native-SIP provider tool webhooks, authenticated by per-call bearer
	// tokens.
	r.POST("/webhooks/sipai/tools/:call_id", deps.toolWebhook.Handle)

	v1 := r.Group("/v1")
	{
		calls := v1.Group("/calls")
		{
			calls.POST("", deps.handlers.InitiateCall)
			calls.GET("/:call_id", deps.handlers.GetCall)
			calls.DELETE("/:call_id", deps.handlers.EndCall)
			calls.GET("/:call_id/transcript", deps.handlers.GetTranscript)
			calls.GET("/:call_id/recording", deps.handlers.GetRecording)
		}

		campaigns := v1.Group("/campaigns")
		{
			campaigns.POST("/:campaign_id/pause", deps.handlers.PauseCampaign)
			campaigns.POST("/:campaign_id/resume", deps.handlers.ResumeCampaign)
			campaigns.GET("/:campaign_id/progress", deps.handlers.GetCampaignProgress)
			campaigns.GET("/:campaign_id/report", deps.handlers.GetCampaignReport)
		}
	}
}
