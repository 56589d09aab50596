package apihandlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dealerkit/mailer-backend/pkg/messaging/tracking"
)

// trackOpen serves the 1x1 pixel. The response is always the GIF, even
// for unknown ids, so broken tracking never shows up in the mail.
func (h *HttpEndpoints) trackOpen(c *gin.Context) {
	trackingID := strings.TrimSuffix(c.Param("tid"), ".gif")
	if trackingID != "" {
		h.tracker.RecordOpen(trackingID, c.Request.UserAgent(), c.ClientIP())
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/gif", tracking.TrackingPixelGIF)
}

func (h *HttpEndpoints) trackClick(c *gin.Context) {
	trackingID := c.Param("tid")
	encodedURL := c.Query("url")

	destination, err := h.tracker.RecordClick(trackingID, encodedURL, c.Request.UserAgent(), c.ClientIP())
	if err != nil || destination == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tracking link"})
		return
	}
	c.Redirect(http.StatusFound, destination)
}

func (h *HttpEndpoints) trackUnsubscribe(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = c.PostForm("token")
	}

	email, err := h.tracker.HandleUnsubscribe(token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired unsubscribe link"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed", "email": email})
}
