package engine

import (
	"log/slog"
	"strings"
	"time"

	"github.com/dealerkit/mailer-backend/pkg/messaging/templates"
	"github.com/dealerkit/mailer-backend/pkg/messaging/tracking"
	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
	"github.com/dealerkit/mailer-backend/pkg/smtpclient"
)

// Store persists queue entries and delivery logs for the engine.
type Store interface {
	AddOutboundMessage(msg types.OutboundMessage) (types.OutboundMessage, error)
	GetOutboundMessageByID(id string) (*types.OutboundMessage, error)
	AddDeliveryLog(log types.DeliveryLog) (types.DeliveryLog, error)
	GetEmailTemplateBySlug(slug string) (*types.EmailTemplate, error)
}

// Transport is the immediate-send path.
type Transport interface {
	Send(email *smtpclient.Email) smtpclient.DeliveryResult
}

// SuppressionFilter drops blocked recipients before anything is
// persisted or sent.
type SuppressionFilter interface {
	FilterSuppressed(emails []string) (allowed []string, suppressed []string, err error)
}

// Tracker injects tracking content and mints tracking ids.
type Tracker interface {
	Inject(html, trackingID string, trackOpens, trackClicks bool) string
	UnsubscribeURL(trackingID, email string) string
	Analytics(dealerID, window string) (*tracking.EngagementStats, error)
}

type Config struct {
	DefaultFrom     string `yaml:"default_from"`
	DefaultFromName string `yaml:"default_from_name"`
	// UseQueueDefault routes sends through the queue unless the request
	// says otherwise.
	UseQueueDefault bool `yaml:"use_queue_default"`
	TrackOpens      bool `yaml:"track_opens"`
	TrackClicks     bool `yaml:"track_clicks"`
}

// Engine is the orchestrator: it normalizes a request, applies
// suppression and tracking, and routes to immediate or queued delivery.
type Engine struct {
	config      Config
	store       Store
	transport   Transport
	suppression SuppressionFilter
	tracker     Tracker
	now         func() time.Time
}

func NewEngine(config Config, store Store, transport Transport, suppression SuppressionFilter, tracker Tracker) *Engine {
	return &Engine{
		config:      config,
		store:       store,
		transport:   transport,
		suppression: suppression,
		tracker:     tracker,
		now:         time.Now,
	}
}

// Send processes one request. Expected failures (all recipients
// suppressed, transport rejection) come back in the result, never as a
// panic or error to the caller.
func (e *Engine) Send(request *types.SendRequest) *types.SendResult {
	recipients := normalizeRecipients(request.To)
	if len(recipients) == 0 {
		return &types.SendResult{Success: false, Error: "no recipients"}
	}

	allowed, suppressed, _ := e.suppression.FilterSuppressed(recipients)
	if len(suppressed) > 0 {
		slog.Info("Dropped suppressed recipients",
			slog.Int("count", len(suppressed)), slog.String("first", suppressed[0]))
	}
	if len(allowed) == 0 {
		return &types.SendResult{Success: false, Error: "all recipients suppressed"}
	}

	from := request.From
	if from == "" {
		from = e.config.DefaultFrom
	}
	fromName := request.FromName
	if fromName == "" {
		fromName = e.config.DefaultFromName
	}
	if from == "" {
		return &types.SendResult{Success: false, Error: "no sender address configured"}
	}

	priority := request.Priority
	if priority < types.PRIORITY_HIGHEST || priority > types.PRIORITY_LOWEST {
		priority = types.PRIORITY_DEFAULT
	}

	trackingID := tracking.NewTrackingID()
	trackOpens := boolOrDefault(request.TrackOpens, e.config.TrackOpens)
	trackClicks := boolOrDefault(request.TrackClicks, e.config.TrackClicks)

	if e.useQueue(request) {
		return e.sendQueued(request, allowed, from, fromName, priority, trackingID, trackOpens, trackClicks)
	}
	return e.sendImmediate(request, allowed, from, fromName, trackingID, trackOpens, trackClicks)
}

// sendQueued creates one queue entry per recipient. Tracking content is
// injected now, so the queued HTML already carries it and the queue
// processor never has to re-inject.
func (e *Engine) sendQueued(request *types.SendRequest, recipients []string, from, fromName string, priority int, trackingID string, trackOpens, trackClicks bool) *types.SendResult {
	scheduledAt := request.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = e.now()
	}

	var firstQueueID string
	for i, recipient := range recipients {
		// Every entry keeps its own tracking id so events resolve to
		// one recipient.
		entryTrackingID := trackingID
		if i > 0 {
			entryTrackingID = tracking.NewTrackingID()
		}

		msg := types.OutboundMessage{
			DealerID:     request.DealerID,
			From:         from,
			FromName:     fromName,
			To:           recipient,
			Cc:           request.Cc,
			Bcc:          request.Bcc,
			ReplyTo:      request.ReplyTo,
			Subject:      request.Subject,
			HTMLBody:     e.prepareHTML(request, recipient, entryTrackingID, trackOpens, trackClicks),
			TextBody:     request.TextBody,
			TrackingID:   entryTrackingID,
			TemplateSlug: request.TemplateSlug,
			Priority:     priority,
			Status:       types.MESSAGE_STATUS_PENDING,
			ScheduledAt:  scheduledAt,
		}
		saved, err := e.store.AddOutboundMessage(msg)
		if err != nil {
			slog.Error("Failed to enqueue message",
				slog.String("recipient", recipient), slog.String("error", err.Error()))
			return &types.SendResult{Success: false, Error: "failed to enqueue message", ShouldRetry: true}
		}
		if firstQueueID == "" {
			firstQueueID = saved.ID.Hex()
		}
	}

	return &types.SendResult{Success: true, QueueID: firstQueueID, TrackingID: trackingID}
}

// sendImmediate bypasses the queue and writes the delivery log
// synchronously.
func (e *Engine) sendImmediate(request *types.SendRequest, recipients []string, from, fromName, trackingID string, trackOpens, trackClicks bool) *types.SendResult {
	email := &smtpclient.Email{
		From:       from,
		FromName:   fromName,
		To:         recipients,
		Cc:         request.Cc,
		Bcc:        request.Bcc,
		ReplyTo:    request.ReplyTo,
		Subject:    request.Subject,
		HTMLBody:   e.prepareHTML(request, recipients[0], trackingID, trackOpens, trackClicks),
		TextBody:   request.TextBody,
		Headers:    request.Headers,
		TrackingID: trackingID,
	}

	delivery := e.transport.Send(email)

	status := types.DELIVERY_STATUS_SENT
	if !delivery.Success {
		status = types.DELIVERY_STATUS_FAILED
		if delivery.HardBounce {
			status = types.DELIVERY_STATUS_BOUNCED
		}
	}
	for _, recipient := range recipients {
		log := types.DeliveryLog{
			DealerID:          request.DealerID,
			Recipient:         recipient,
			Subject:           request.Subject,
			TrackingID:        trackingID,
			ProviderMessageID: delivery.ProviderMessageID,
			ProviderResponse:  delivery.Response,
			Status:            status,
			SentAt:            e.now(),
		}
		if _, err := e.store.AddDeliveryLog(log); err != nil {
			slog.Error("Failed to write delivery log", slog.String("error", err.Error()))
		}
	}

	if !delivery.Success {
		errText := delivery.Response
		if delivery.Err != nil {
			errText = delivery.Err.Error()
		}
		return &types.SendResult{Success: false, Error: errText, ShouldRetry: delivery.ShouldRetry, TrackingID: trackingID}
	}
	return &types.SendResult{Success: true, MessageID: delivery.ProviderMessageID, TrackingID: trackingID}
}

// SendWithTemplate loads the template, substitutes variables and
// delegates to Send.
func (e *Engine) SendWithTemplate(slug string, to []string, vars map[string]string) *types.SendResult {
	subject, html, text, err := templates.Render(e.store, slug, vars)
	if err != nil {
		return &types.SendResult{Success: false, Error: "template not found or inactive: " + slug}
	}
	return e.Send(&types.SendRequest{
		To:           to,
		Subject:      subject,
		HTMLBody:     html,
		TextBody:     text,
		TemplateSlug: slug,
	})
}

// Status looks up a queue entry for the operator API.
func (e *Engine) Status(id string) (*types.OutboundMessage, error) {
	return e.store.GetOutboundMessageByID(id)
}

// Analytics passes through to the tracking service.
func (e *Engine) Analytics(dealerID, window string) (*tracking.EngagementStats, error) {
	return e.tracker.Analytics(dealerID, window)
}

func (e *Engine) prepareHTML(request *types.SendRequest, recipient, trackingID string, trackOpens, trackClicks bool) string {
	html := e.tracker.Inject(request.HTMLBody, trackingID, trackOpens, trackClicks)
	if request.AddUnsubscribe && html != "" {
		link := e.tracker.UnsubscribeURL(trackingID, recipient)
		footer := `<p style="font-size:11px;color:#888;"><a href="` + link + `">Unsubscribe</a></p>`
		if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
			html = html[:idx] + footer + html[idx:]
		} else {
			html += footer
		}
	}
	return html
}

func (e *Engine) useQueue(request *types.SendRequest) bool {
	if request.Immediate {
		return false
	}
	if request.UseQueue != nil {
		return *request.UseQueue
	}
	return e.config.UseQueueDefault
}

// normalizeRecipients lowercases, trims and deduplicates while keeping
// first-seen order.
func normalizeRecipients(emails []string) []string {
	seen := map[string]bool{}
	normalized := []string{}
	for _, email := range emails {
		cleaned := strings.ToLower(strings.TrimSpace(email))
		if cleaned == "" || !strings.Contains(cleaned, "@") || seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		normalized = append(normalized, cleaned)
	}
	return normalized
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value != nil {
		return *value
	}
	return fallback
}
