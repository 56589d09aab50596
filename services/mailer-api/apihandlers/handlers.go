package apihandlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	mw "github.com/dealerkit/mailer-backend/pkg/apihelpers/middlewares"
	"github.com/dealerkit/mailer-backend/pkg/dkim"
	"github.com/dealerkit/mailer-backend/pkg/messaging/engine"
	"github.com/dealerkit/mailer-backend/pkg/messaging/queue"
	"github.com/dealerkit/mailer-backend/pkg/messaging/suppression"
	"github.com/dealerkit/mailer-backend/pkg/messaging/tracking"
)

func HealthCheckHandle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type HttpEndpoints struct {
	apiKeys     []string
	engine      *engine.Engine
	processor   *queue.Processor
	signer      *dkim.Signer
	tracker     *tracking.Service
	suppression *suppression.Service
}

func NewHTTPHandler(
	apiKeys []string,
	mailEngine *engine.Engine,
	processor *queue.Processor,
	signer *dkim.Signer,
	tracker *tracking.Service,
	suppressionService *suppression.Service,
) *HttpEndpoints {
	return &HttpEndpoints{
		apiKeys:     apiKeys,
		engine:      mailEngine,
		processor:   processor,
		signer:      signer,
		tracker:     tracker,
		suppression: suppressionService,
	}
}

func (h *HttpEndpoints) AddRoutes(rg *gin.RouterGroup) {
	// Operator surface, API-key protected.
	v1 := rg.Group("/v1", mw.HasValidAPIKey(h.apiKeys))

	v1.POST("/send", mw.RequirePayload(), h.sendEmail)
	v1.POST("/send-template", mw.RequirePayload(), h.sendTemplateEmail)

	v1.GET("/queue/stats", h.getQueueStats)
	v1.POST("/queue/:id/retry", h.retryQueuedEmail)
	v1.POST("/queue/:id/cancel", h.cancelQueuedEmail)
	v1.GET("/messages/:id", h.getMessageStatus)

	v1.POST("/domains/:domain/setup", h.setupDomain)
	v1.GET("/domains/:domain/dns", h.getDomainDNSRecords)
	v1.GET("/domains/:domain/verify", h.verifyDomain)

	v1.GET("/analytics", h.getAnalytics)

	v1.GET("/suppressions", h.listSuppressions)
	v1.POST("/suppressions", mw.RequirePayload(), h.addSuppression)
	v1.DELETE("/suppressions/:email", h.removeSuppression)

	v1.POST("/webhooks/:type", mw.RequirePayload(), h.handleWebhook)

	// Tracking surface stays open: recipients hit it from their mail
	// clients, authentication happens upstream if at all.
	track := rg.Group("/track")
	track.GET("/open/:tid", h.trackOpen)
	track.GET("/click/:tid", h.trackClick)
	track.GET("/unsubscribe", h.trackUnsubscribe)
	track.POST("/unsubscribe", h.trackUnsubscribe)
}
