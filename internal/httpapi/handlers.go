package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voiceagent-platform/internal/call"
	"voiceagent-platform/internal/campaign"
	"voiceagent-platform/internal/provider"
	"voiceagent-platform/internal/store"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Registry *call.Registry
	Router   *provider.Router
	Agents   provider.ConfigStore
	Store    *store.PG
	Dialer   *campaign.Dialer
	Campaign campaign.Store
}

// --- Calls ---

type initiateCallRequest struct {
	AgentID      string `json:"agent_id"`
	To           string `json:"to"`
	CallerID     string `json:"caller_id,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
}

// InitiateCall places one outbound call through the agent's configured
// provider. Failures come back as success=false with a speakable reason;
// internals never leak into the response.
func (h Handlers) InitiateCall(c *gin.Context) {
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid json"})
		return
	}
	if req.AgentID == "" || req.To == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "agent_id and to are required"})
		return
	}
	if !campaign.ValidPhone(req.To) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "destination number is not dialable"})
		return
	}

	ctx := c.Request.Context()
	agent, err := h.Agents.LoadAgentConfig(ctx, req.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "agent not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "agent lookup failed"})
		return
	}

	p, err := h.Router.Route(agent)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": "agent has no usable call provider"})
		return
	}

	callerID := req.CallerID
	if callerID == "" {
		callerID = agent.CallerID
	}

	res, err := p.Initiate(ctx, provider.InitiateRequest{
		CallID:       uuid.NewString(),
		Agent:        agent,
		To:           req.To,
		CallerID:     callerID,
		CustomerName: req.CustomerName,
	})
	if err != nil {
		status := http.StatusBadGateway
		reason := "the call could not be placed right now"
		if provider.Classify(err) == provider.ClassPermanent {
			status = http.StatusUnprocessableEntity
			reason = "the call was rejected and will not be retried"
		}
		c.AbortWithStatusJSON(status, gin.H{"success": false, "error": reason})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "call": res})
}

// EndCall terminates a live call. Unknown or already-finished calls report
// already_ended rather than an error; hangup must be idempotent.
func (h Handlers) EndCall(c *gin.Context) {
	callID := c.Param("call_id")

	sess, ok := h.Registry.Get(callID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "result": provider.EndResult{AlreadyEnded: true}})
		return
	}
	p, ok := h.Router.ByName(sess.Provider)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "call provider unavailable"})
		return
	}
	res, err := p.EndCall(c.Request.Context(), callID)
	if err != nil && !res.Ended() {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"success": false, "error": "the call could not be terminated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

// GetCall returns the live snapshot, falling back to the stored result for
// finished calls.
func (h Handlers) GetCall(c *gin.Context) {
	callID := c.Param("call_id")

	if sess, ok := h.Registry.Get(callID); ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "live": true, "call": sess.Snapshot()})
		return
	}

	row, found, err := h.Store.LoadCallResult(c.Request.Context(), callID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "call lookup failed"})
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "live": false, "call": row})
}

// GetTranscript serves live calls from their provider (valid mid-call) and
// finished calls from storage.
func (h Handlers) GetTranscript(c *gin.Context) {
	callID := c.Param("call_id")
	ctx := c.Request.Context()

	if sess, ok := h.Registry.Get(callID); ok {
		if p, ok := h.Router.ByName(sess.Provider); ok {
			entries, err := p.GetTranscript(ctx, callID)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"success": false, "error": "transcript unavailable right now"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "live": true, "transcript": entries})
			return
		}
	}

	entries, found, err := h.Store.LoadTranscript(ctx, callID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "transcript lookup failed"})
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "live": false, "transcript": entries})
}

// GetRecording returns the recording URL when one exists.
func (h Handlers) GetRecording(c *gin.Context) {
	callID := c.Param("call_id")

	sess, ok := h.Registry.Get(callID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "call not found or already archived"})
		return
	}
	p, ok := h.Router.ByName(sess.Provider)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "call provider unavailable"})
		return
	}
	url, err := p.GetRecordingURL(c.Request.Context(), callID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"success": false, "error": "recording unavailable right now"})
		return
	}
	if url == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "no recording exists for this call"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
}

// --- Campaigns ---

func (h Handlers) PauseCampaign(c *gin.Context) {
	id := c.Param("campaign_id")
	if err := h.Dialer.Pause(c.Request.Context(), id); err != nil {
		h.campaignError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": string(campaign.StatusPaused)})
}

func (h Handlers) ResumeCampaign(c *gin.Context) {
	id := c.Param("campaign_id")
	if err := h.Dialer.Resume(c.Request.Context(), id); err != nil {
		h.campaignError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": string(campaign.StatusRunning)})
}

func (h Handlers) GetCampaignProgress(c *gin.Context) {
	id := c.Param("campaign_id")
	prog, err := h.Campaign.LoadProgress(c.Request.Context(), id)
	if err != nil {
		h.campaignError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "progress": prog})
}

// GetCampaignReport aggregates finished calls: outcomes, talk time and cost
// per provider.
func (h Handlers) GetCampaignReport(c *gin.Context) {
	id := c.Param("campaign_id")
	rep, err := h.Store.LoadCampaignReport(c.Request.Context(), id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": rep})
}

func (h Handlers) campaignError(c *gin.Context, err error) {
	if errors.Is(err, campaign.ErrCampaignNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "campaign not found"})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "campaign operation failed"})
}

// --- Health ---

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Healthz reports process liveness plus live-call load.
func (h Handlers) Healthz(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		dbState := "ok"
		if db != nil {
			if err := db.PingContext(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				dbState = "unreachable"
			}
		}
		c.JSON(status, gin.H{
			"status":     dbState,
			"live_calls": h.Registry.Len(),
			"dialer":     h.Dialer.ActiveDescription(),
		})
	}
}
