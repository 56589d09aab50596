package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	TRACKING_EVENT_OPEN        = "OPEN"
	TRACKING_EVENT_CLICK       = "CLICK"
	TRACKING_EVENT_BOUNCE      = "BOUNCE"
	TRACKING_EVENT_COMPLAINT   = "COMPLAINT"
	TRACKING_EVENT_DELIVERY    = "DELIVERY"
	TRACKING_EVENT_UNSUBSCRIBE = "UNSUBSCRIBE"
)

type TrackingEvent struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TrackingID string             `bson:"trackingId" json:"trackingId"`
	EventType  string             `bson:"eventType" json:"eventType"`
	URL        string             `bson:"url,omitempty" json:"url,omitempty"`
	BounceType string             `bson:"bounceType,omitempty" json:"bounceType,omitempty"`
	Reason     string             `bson:"reason,omitempty" json:"reason,omitempty"`
	UserAgent  string             `bson:"userAgent,omitempty" json:"userAgent,omitempty"`
	IPAddress  string             `bson:"ipAddress,omitempty" json:"ipAddress,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
}
