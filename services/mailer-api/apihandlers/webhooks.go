package apihandlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealerkit/mailer-backend/pkg/messaging/tracking"
	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

type WebhookReq struct {
	MessageID  string `json:"messageId"`
	Recipient  string `json:"recipient,omitempty"`
	BounceType string `json:"bounceType,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// handleWebhook ingests provider notifications. Caller authentication
// beyond the API key is an upstream concern.
func (h *HttpEndpoints) handleWebhook(c *gin.Context) {
	var req WebhookReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MessageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageId is required"})
		return
	}

	webhookType := c.Param("type")
	var err error
	switch webhookType {
	case "bounce":
		err = h.tracker.ProcessBounce(req.MessageID, req.BounceType, req.Reason)
	case "complaint":
		err = h.tracker.ProcessComplaint(req.MessageID)
	case "delivery":
		err = h.tracker.ProcessDelivery(req.MessageID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown webhook type"})
		return
	}

	if err == tracking.ErrLogNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "no delivery log for message id"})
		return
	}
	if err != nil {
		slog.Error("Webhook processing failed",
			slog.String("type", webhookType), slog.String("messageId", req.MessageID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "processed"})
}

type SuppressionReq struct {
	Email  string `json:"email"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (h *HttpEndpoints) listSuppressions(c *gin.Context) {
	entries, err := h.suppression.List(500)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list suppressions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"suppressions": entries})
}

func (h *HttpEndpoints) addSuppression(c *gin.Context) {
	var req SuppressionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = types.SUPPRESSION_REASON_MANUAL
	}

	if err := h.suppression.Suppress(req.Email, reason, types.SUPPRESSION_SOURCE_MANUAL, req.Detail); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add suppression"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "suppression added"})
}

func (h *HttpEndpoints) removeSuppression(c *gin.Context) {
	if err := h.suppression.Unsuppress(c.Param("email")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove suppression"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "suppression removed"})
}
