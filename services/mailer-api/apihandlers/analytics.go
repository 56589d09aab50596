package apihandlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *HttpEndpoints) getAnalytics(c *gin.Context) {
	window := c.DefaultQuery("window", "day")
	dealerID := c.Query("dealerId")

	stats, err := h.engine.Analytics(dealerID, window)
	if err != nil {
		slog.Error("Failed to compute analytics", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute analytics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
