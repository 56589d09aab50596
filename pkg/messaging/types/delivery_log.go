package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DELIVERY_STATUS_SENT      = "SENT"
	DELIVERY_STATUS_DELIVERED = "DELIVERED"
	DELIVERY_STATUS_OPENED    = "OPENED"
	DELIVERY_STATUS_CLICKED   = "CLICKED"
	DELIVERY_STATUS_BOUNCED   = "BOUNCED"
	DELIVERY_STATUS_FAILED    = "FAILED"
)

const (
	BOUNCE_TYPE_HARD = "HARD"
	BOUNCE_TYPE_SOFT = "SOFT"
)

// DeliveryLog records the terminal transport outcome for one recipient
// and is patched afterwards by tracking events.
type DeliveryLog struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DealerID          string             `bson:"dealerId,omitempty" json:"dealerId,omitempty"`
	Recipient         string             `bson:"recipient" json:"recipient"`
	Subject           string             `bson:"subject,omitempty" json:"subject,omitempty"`
	TrackingID        string             `bson:"trackingId,omitempty" json:"trackingId,omitempty"`
	ProviderMessageID string             `bson:"providerMessageId,omitempty" json:"providerMessageId,omitempty"`
	ProviderResponse  string             `bson:"providerResponse,omitempty" json:"providerResponse,omitempty"`
	Status            string             `bson:"status" json:"status"`
	BounceType        string             `bson:"bounceType,omitempty" json:"bounceType,omitempty"`
	BounceReason      string             `bson:"bounceReason,omitempty" json:"bounceReason,omitempty"`
	IsComplaint       bool               `bson:"isComplaint,omitempty" json:"isComplaint,omitempty"`
	SentAt            time.Time          `bson:"sentAt,omitempty" json:"sentAt,omitempty"`
	DeliveredAt       time.Time          `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
	OpenedAt          time.Time          `bson:"openedAt,omitempty" json:"openedAt,omitempty"`
	ClickedAt         time.Time          `bson:"clickedAt,omitempty" json:"clickedAt,omitempty"`
	BouncedAt         time.Time          `bson:"bouncedAt,omitempty" json:"bouncedAt,omitempty"`
	OpenCount         int                `bson:"openCount,omitempty" json:"openCount,omitempty"`
	ClickCount        int                `bson:"clickCount,omitempty" json:"clickCount,omitempty"`
}
