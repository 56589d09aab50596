package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	SUPPRESSION_REASON_BOUNCE_HARD = "BOUNCE_HARD"
	SUPPRESSION_REASON_BOUNCE_SOFT = "BOUNCE_SOFT"
	SUPPRESSION_REASON_COMPLAINT   = "COMPLAINT"
	SUPPRESSION_REASON_UNSUBSCRIBE = "UNSUBSCRIBE"
	SUPPRESSION_REASON_MANUAL      = "MANUAL"
)

const (
	SUPPRESSION_SOURCE_SMTP     = "smtp"
	SUPPRESSION_SOURCE_WEBHOOK  = "webhook"
	SUPPRESSION_SOURCE_TRACKING = "tracking"
	SUPPRESSION_SOURCE_MANUAL   = "manual"
)

// SuppressionEntry excludes an address from future sends. Email is
// unique in the collection; upserts refresh reason and expiry.
type SuppressionEntry struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email     string             `bson:"email" json:"email"`
	Reason    string             `bson:"reason" json:"reason"`
	Source    string             `bson:"source,omitempty" json:"source,omitempty"`
	Detail    string             `bson:"detail,omitempty" json:"detail,omitempty"`
	Active    bool               `bson:"active" json:"active"`
	ExpiresAt time.Time          `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// IsActiveAt reports whether the entry still blocks sending at t.
func (s SuppressionEntry) IsActiveAt(t time.Time) bool {
	if !s.Active {
		return false
	}
	if !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(t) {
		return false
	}
	return true
}
