package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DomainConfig holds the signing material and sending budget of one
// verified sending domain.
type DomainConfig struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Domain         string             `bson:"domain" json:"domain"`
	DKIMSelector   string             `bson:"dkimSelector" json:"dkimSelector"`
	DKIMPrivateKey string             `bson:"dkimPrivateKey" json:"-"`
	DKIMPublicKey  string             `bson:"dkimPublicKey" json:"dkimPublicKey"`
	DKIMRecord     string             `bson:"dkimRecord" json:"dkimRecord"`
	SPFRecord      string             `bson:"spfRecord" json:"spfRecord"`
	DMARCRecord    string             `bson:"dmarcRecord" json:"dmarcRecord"`
	DKIMVerified   bool               `bson:"dkimVerified" json:"dkimVerified"`
	SPFVerified    bool               `bson:"spfVerified" json:"spfVerified"`
	DMARCVerified  bool               `bson:"dmarcVerified" json:"dmarcVerified"`
	HourlySent     int                `bson:"hourlySent" json:"hourlySent"`
	DailySent      int                `bson:"dailySent" json:"dailySent"`
	HourlyLimit    int                `bson:"hourlyLimit" json:"hourlyLimit"`
	DailyLimit     int                `bson:"dailyLimit" json:"dailyLimit"`
	HourResetAt    time.Time          `bson:"hourResetAt" json:"hourResetAt"`
	DayResetAt     time.Time          `bson:"dayResetAt" json:"dayResetAt"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt" json:"updatedAt"`
}
