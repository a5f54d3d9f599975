package tools

import (
	"strings"
	"time"

	"voiceagent-platform/internal/call"
	"voiceagent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandler is the HTTP transport of the dispatcher: the native-SIP
// provider POSTs tool invocations here during a live call. The dispatcher
// contract is identical to the in-process path; only the transport differs.
type WebhookHandler struct {
	Dispatcher *Dispatcher
	Signer     *TokenSigner
	Registry   *call.Registry
}

type webhookRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"parameters"`
}

// Handle serves POST /webhooks/sipai/tools/:call_id.
//
// The response body is the dispatcher result; the provider reads Message
// back to the model. HTTP-level failures are reserved for auth and framing
// problems so the provider can tell "tool said no" from "endpoint broken".
func (h *WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Param("call_id")

	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		c.AbortWithStatusJSON(401, gin.H{"error": "missing bearer token"})
		return
	}
	if err := h.Signer.Verify(token, callID, time.Now().UTC()); err != nil {
		log.Warn("tool webhook rejected", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(401, gin.H{"error": "invalid tool token"})
		return
	}

	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Tool == "" {
		c.AbortWithStatusJSON(400, gin.H{"error": "tool name and parameters are required"})
		return
	}

	ref := CallRef{CallID: callID}
	if sess, ok := h.Registry.Get(callID); ok {
		ref.AgentID = sess.AgentID
		ref.CampaignID = sess.CampaignID
		ref.From = sess.From
		ref.To = sess.To
		ref.TransferNumber = sess.TransferNumber
	} else {
		// The provider can deliver a late tool call after local eviction;
		// dispatch still works with the bare call reference.
		log.Warn("tool webhook for unregistered call", "call_id", callID, "tool", req.Tool)
	}

	res := h.Dispatcher.Dispatch(c.Request.Context(), Invocation{
		Call: ref,
		Name: req.Tool,
		Args: req.Args,
	})
	c.JSON(200, res)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
