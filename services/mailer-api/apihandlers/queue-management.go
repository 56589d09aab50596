package apihandlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *HttpEndpoints) getQueueStats(c *gin.Context) {
	stats, err := h.processor.Stats()
	if err != nil {
		slog.Error("Failed to read queue stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *HttpEndpoints) retryQueuedEmail(c *gin.Context) {
	id := c.Param("id")
	if err := h.processor.RetryEmail(id); err != nil {
		slog.Warn("Retry request rejected", slog.String("id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email scheduled for retry"})
}

func (h *HttpEndpoints) cancelQueuedEmail(c *gin.Context) {
	id := c.Param("id")
	if err := h.processor.CancelEmail(id); err != nil {
		slog.Warn("Cancel request rejected", slog.String("id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email cancelled"})
}

func (h *HttpEndpoints) getMessageStatus(c *gin.Context) {
	msg, err := h.engine.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, msg)
}
