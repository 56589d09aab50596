package mailer

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

var ErrMessageNotClaimable = errors.New("message not claimable")

func (dbService *MailerDBService) AddOutboundMessage(msg types.OutboundMessage) (types.OutboundMessage, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	if msg.ScheduledAt.IsZero() {
		msg.ScheduledAt = now
	}

	res, err := dbService.collectionOutboundEmails().InsertOne(ctx, msg)
	if err != nil {
		return msg, err
	}
	msg.ID = res.InsertedID.(primitive.ObjectID)
	return msg, nil
}

func (dbService *MailerDBService) GetOutboundMessageByID(id string) (*types.OutboundMessage, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var msg types.OutboundMessage
	if err := dbService.collectionOutboundEmails().FindOne(ctx, bson.M{"_id": objID}).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// FindDueMessages returns up to limit entries ready for processing,
// most urgent first.
func (dbService *MailerDBService) FindDueMessages(now time.Time, limit int) ([]types.OutboundMessage, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	filter := bson.M{
		"status":      bson.M{"$in": []string{types.MESSAGE_STATUS_PENDING, types.MESSAGE_STATUS_DEFERRED}},
		"scheduledAt": bson.M{"$lte": now},
		"$or": []bson.M{
			{"nextAttemptAt": bson.M{"$exists": false}},
			{"nextAttemptAt": bson.M{"$lte": now}},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "createdAt", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := dbService.collectionOutboundEmails().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []types.OutboundMessage{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// ClaimMessage atomically moves one entry to PROCESSING. The claim is
// the precondition for a transport attempt, so overlapping ticks (or a
// second process) can never send the same entry twice. PROCESSING
// entries older than staleBefore count as abandoned and are reclaimable.
func (dbService *MailerDBService) ClaimMessage(id primitive.ObjectID, now time.Time, staleBefore time.Time) (*types.OutboundMessage, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	filter := bson.M{
		"_id": id,
		"$or": []bson.M{
			{"status": bson.M{"$in": []string{types.MESSAGE_STATUS_PENDING, types.MESSAGE_STATUS_DEFERRED}}},
			{"status": types.MESSAGE_STATUS_PROCESSING, "lastAttemptAt": bson.M{"$lt": staleBefore}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":        types.MESSAGE_STATUS_PROCESSING,
			"lastAttemptAt": now,
			"updatedAt":     now,
		},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var msg types.OutboundMessage
	err := dbService.collectionOutboundEmails().FindOneAndUpdate(ctx, filter, update, opts).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotClaimable
		}
		return nil, err
	}
	return &msg, nil
}

func (dbService *MailerDBService) MarkMessageSent(id primitive.ObjectID, providerMessageID, providerResponse string) error {
	return dbService.updateMessage(id, bson.M{
		"$set": bson.M{
			"status":            types.MESSAGE_STATUS_SENT,
			"providerMessageId": providerMessageID,
			"providerResponse":  providerResponse,
			"errorMessage":      "",
			"updatedAt":         time.Now(),
		},
		"$unset": bson.M{"nextAttemptAt": ""},
	})
}

func (dbService *MailerDBService) MarkMessageDeferred(id primitive.ObjectID, nextAttemptAt time.Time, errorMessage string) error {
	return dbService.updateMessage(id, bson.M{
		"$set": bson.M{
			"status":        types.MESSAGE_STATUS_DEFERRED,
			"nextAttemptAt": nextAttemptAt,
			"errorMessage":  errorMessage,
			"updatedAt":     time.Now(),
		},
	})
}

func (dbService *MailerDBService) MarkMessageFailed(id primitive.ObjectID, errorMessage string) error {
	return dbService.updateMessage(id, bson.M{
		"$set": bson.M{
			"status":       types.MESSAGE_STATUS_FAILED,
			"errorMessage": errorMessage,
			"updatedAt":    time.Now(),
		},
		"$unset": bson.M{"nextAttemptAt": ""},
	})
}

// ResetMessageForRetry is the operator API behind retryEmail: a FAILED
// entry goes back to PENDING with a clean attempt counter.
func (dbService *MailerDBService) ResetMessageForRetry(id string) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	res, err := dbService.collectionOutboundEmails().UpdateOne(ctx,
		bson.M{"_id": objID, "status": types.MESSAGE_STATUS_FAILED},
		bson.M{
			"$set": bson.M{
				"status":       types.MESSAGE_STATUS_PENDING,
				"attempts":     0,
				"errorMessage": "",
				"updatedAt":    time.Now(),
			},
			"$unset": bson.M{"nextAttemptAt": ""},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errors.New("message not found or not in FAILED state")
	}
	return nil
}

// CancelMessage moves a waiting entry straight to FAILED without a
// transport attempt.
func (dbService *MailerDBService) CancelMessage(id string) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	res, err := dbService.collectionOutboundEmails().UpdateOne(ctx,
		bson.M{"_id": objID, "status": bson.M{"$in": []string{types.MESSAGE_STATUS_PENDING, types.MESSAGE_STATUS_DEFERRED}}},
		bson.M{
			"$set": bson.M{
				"status":       types.MESSAGE_STATUS_FAILED,
				"errorMessage": "cancelled by operator",
				"updatedAt":    time.Now(),
			},
			"$unset": bson.M{"nextAttemptAt": ""},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errors.New("message not found or not cancellable")
	}
	return nil
}

func (dbService *MailerDBService) CountMessagesByStatus() (map[string]int64, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	cursor, err := dbService.collectionOutboundEmails().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	counts := map[string]int64{}
	var rows []struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.ID] = row.Count
	}
	return counts, nil
}

// CountMessagesUpdatedSince counts entries that reached the given status
// after the cutoff, used for the "today" totals in queue stats.
func (dbService *MailerDBService) CountMessagesUpdatedSince(status string, since time.Time) (int64, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	return dbService.collectionOutboundEmails().CountDocuments(ctx, bson.M{
		"status":    status,
		"updatedAt": bson.M{"$gte": since},
	})
}

func (dbService *MailerDBService) updateMessage(id primitive.ObjectID, update bson.M) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	res, err := dbService.collectionOutboundEmails().UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
