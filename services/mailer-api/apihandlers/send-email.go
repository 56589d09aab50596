package apihandlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

func (h *HttpEndpoints) sendEmail(c *gin.Context) {
	var req types.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error("Failed to bind send request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.engine.Send(&req)
	if !result.Success {
		status := http.StatusUnprocessableEntity
		if result.ShouldRetry {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

type SendTemplateReq struct {
	TemplateSlug string            `json:"templateSlug"`
	To           []string          `json:"to"`
	Variables    map[string]string `json:"variables"`
}

func (h *HttpEndpoints) sendTemplateEmail(c *gin.Context) {
	var req SendTemplateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error("Failed to bind template send request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TemplateSlug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "templateSlug is required"})
		return
	}

	result := h.engine.SendWithTemplate(req.TemplateSlug, req.To, req.Variables)
	if !result.Success {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}
	c.JSON(http.StatusOK, result)
}
