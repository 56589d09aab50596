package types

import "time"

// SendRequest is the normalized input of the mail engine.
type SendRequest struct {
	To             []string          `json:"to"`
	Subject        string            `json:"subject"`
	HTMLBody       string            `json:"html"`
	TextBody       string            `json:"text,omitempty"`
	From           string            `json:"from,omitempty"`
	FromName       string            `json:"fromName,omitempty"`
	Cc             []string          `json:"cc,omitempty"`
	Bcc            []string          `json:"bcc,omitempty"`
	ReplyTo        string            `json:"replyTo,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	TrackOpens     *bool             `json:"trackOpens,omitempty"`
	TrackClicks    *bool             `json:"trackClicks,omitempty"`
	AddUnsubscribe bool              `json:"addUnsubscribe,omitempty"`
	ScheduledAt    time.Time         `json:"scheduledAt,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	TemplateSlug   string            `json:"templateSlug,omitempty"`
	UseQueue       *bool             `json:"useQueue,omitempty"`
	Immediate      bool              `json:"immediate,omitempty"`
	DealerID       string            `json:"dealerId,omitempty"`
}

// SendResult is what callers get back from the engine. Expected failure
// conditions (suppression, rate limit) are reported here, not as errors.
type SendResult struct {
	Success     bool   `json:"success"`
	MessageID   string `json:"messageId,omitempty"`
	QueueID     string `json:"queueId,omitempty"`
	TrackingID  string `json:"trackingId,omitempty"`
	Error       string `json:"error,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}
