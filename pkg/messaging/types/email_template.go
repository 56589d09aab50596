package types

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EmailTemplate is a stored template addressed by slug. Substitution is
// literal {{key}} replacement, see pkg/messaging/templates.
type EmailTemplate struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Slug        string             `bson:"slug" json:"slug"`
	Subject     string             `bson:"subject" json:"subject"`
	HTMLContent string             `bson:"htmlContent" json:"htmlContent"`
	TextContent string             `bson:"textContent,omitempty" json:"textContent,omitempty"`
	IsActive    bool               `bson:"isActive" json:"isActive"`
}
