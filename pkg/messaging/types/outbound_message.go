package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Queue entry statuses. A message only moves forward:
// PENDING/DEFERRED -> PROCESSING -> SENT | DEFERRED | FAILED.
const (
	MESSAGE_STATUS_PENDING    = "PENDING"
	MESSAGE_STATUS_PROCESSING = "PROCESSING"
	MESSAGE_STATUS_SENT       = "SENT"
	MESSAGE_STATUS_DEFERRED   = "DEFERRED"
	MESSAGE_STATUS_FAILED     = "FAILED"
)

const (
	PRIORITY_HIGHEST = 1
	PRIORITY_DEFAULT = 5
	PRIORITY_LOWEST  = 10
)

// OutboundMessage is one queued send for exactly one recipient. Multi
// recipient requests are fanned out into one entry per address so retry
// and suppression stay per-address.
type OutboundMessage struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DealerID          string             `bson:"dealerId,omitempty" json:"dealerId,omitempty"`
	From              string             `bson:"from" json:"from"`
	FromName          string             `bson:"fromName,omitempty" json:"fromName,omitempty"`
	To                string             `bson:"to" json:"to"`
	Cc                []string           `bson:"cc,omitempty" json:"cc,omitempty"`
	Bcc               []string           `bson:"bcc,omitempty" json:"bcc,omitempty"`
	ReplyTo           string             `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	Subject           string             `bson:"subject" json:"subject"`
	HTMLBody          string             `bson:"htmlBody,omitempty" json:"htmlBody,omitempty"`
	TextBody          string             `bson:"textBody,omitempty" json:"textBody,omitempty"`
	TrackingID        string             `bson:"trackingId" json:"trackingId"`
	TemplateSlug      string             `bson:"templateSlug,omitempty" json:"templateSlug,omitempty"`
	Priority          int                `bson:"priority" json:"priority"`
	Status            string             `bson:"status" json:"status"`
	Attempts          int                `bson:"attempts" json:"attempts"`
	ScheduledAt       time.Time          `bson:"scheduledAt" json:"scheduledAt"`
	NextAttemptAt     time.Time          `bson:"nextAttemptAt,omitempty" json:"nextAttemptAt,omitempty"`
	LastAttemptAt     time.Time          `bson:"lastAttemptAt,omitempty" json:"lastAttemptAt,omitempty"`
	ProviderMessageID string             `bson:"providerMessageId,omitempty" json:"providerMessageId,omitempty"`
	ProviderResponse  string             `bson:"providerResponse,omitempty" json:"providerResponse,omitempty"`
	ErrorMessage      string             `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt         time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time          `bson:"updatedAt" json:"updatedAt"`
}
