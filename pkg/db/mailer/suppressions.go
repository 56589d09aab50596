package mailer

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

// UpsertSuppression writes or refreshes the single entry for an address.
// Addresses are stored lowercased so suppression matching is case
// insensitive.
func (dbService *MailerDBService) UpsertSuppression(entry types.SuppressionEntry) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	now := time.Now()
	email := strings.ToLower(strings.TrimSpace(entry.Email))

	set := bson.M{
		"email":     email,
		"reason":    entry.Reason,
		"source":    entry.Source,
		"detail":    entry.Detail,
		"active":    true,
		"updatedAt": now,
	}
	if entry.ExpiresAt.IsZero() {
		set["expiresAt"] = time.Time{}
	} else {
		set["expiresAt"] = entry.ExpiresAt
	}

	_, err := dbService.collectionSuppressions().UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"createdAt": now},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (dbService *MailerDBService) GetSuppression(email string) (*types.SuppressionEntry, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	var entry types.SuppressionEntry
	err := dbService.collectionSuppressions().FindOne(ctx,
		bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&entry)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindSuppressionsByEmails returns the entries matching any of the given
// addresses, active or not. Callers decide with IsActiveAt.
func (dbService *MailerDBService) FindSuppressionsByEmails(emails []string) ([]types.SuppressionEntry, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	lowered := make([]string, 0, len(emails))
	for _, email := range emails {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(email)))
	}

	cursor, err := dbService.collectionSuppressions().Find(ctx, bson.M{"email": bson.M{"$in": lowered}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	entries := []types.SuppressionEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeactivateSuppression is the operator escape hatch: the entry stays
// for the audit trail but stops blocking sends.
func (dbService *MailerDBService) DeactivateSuppression(email string) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	_, err := dbService.collectionSuppressions().UpdateOne(ctx,
		bson.M{"email": strings.ToLower(strings.TrimSpace(email))},
		bson.M{"$set": bson.M{"active": false, "updatedAt": time.Now()}},
	)
	return err
}

func (dbService *MailerDBService) ListSuppressions(limit int) ([]types.SuppressionEntry, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := dbService.collectionSuppressions().Find(ctx, bson.M{"active": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	entries := []types.SuppressionEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
