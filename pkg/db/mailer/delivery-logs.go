package mailer

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

func (dbService *MailerDBService) AddDeliveryLog(log types.DeliveryLog) (types.DeliveryLog, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	if log.SentAt.IsZero() {
		log.SentAt = time.Now()
	}

	res, err := dbService.collectionDeliveryLogs().InsertOne(ctx, log)
	if err != nil {
		return log, err
	}
	log.ID = res.InsertedID.(primitive.ObjectID)
	return log, nil
}

func (dbService *MailerDBService) GetDeliveryLogByTrackingID(trackingID string) (*types.DeliveryLog, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	var log types.DeliveryLog
	if err := dbService.collectionDeliveryLogs().FindOne(ctx, bson.M{"trackingId": trackingID}).Decode(&log); err != nil {
		return nil, err
	}
	return &log, nil
}

func (dbService *MailerDBService) GetDeliveryLogByProviderMessageID(providerMessageID string) (*types.DeliveryLog, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	var log types.DeliveryLog
	if err := dbService.collectionDeliveryLogs().FindOne(ctx, bson.M{"providerMessageId": providerMessageID}).Decode(&log); err != nil {
		return nil, err
	}
	return &log, nil
}

// MarkDelivered only upgrades the status, it never downgrades a log that
// already moved past DELIVERED via an open or a click.
func (dbService *MailerDBService) MarkDelivered(trackingID string, at time.Time) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	_, err := dbService.collectionDeliveryLogs().UpdateOne(ctx,
		bson.M{"trackingId": trackingID, "status": types.DELIVERY_STATUS_SENT},
		bson.M{"$set": bson.M{"status": types.DELIVERY_STATUS_DELIVERED, "deliveredAt": at}},
	)
	return err
}

// MarkOpened bumps the open counter; the first open also records the
// timestamp and advances SENT/DELIVERED to OPENED.
func (dbService *MailerDBService) MarkOpened(trackingID string, at time.Time) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	coll := dbService.collectionDeliveryLogs()
	_, err := coll.UpdateOne(ctx,
		bson.M{"trackingId": trackingID},
		bson.M{"$inc": bson.M{"openCount": 1}},
	)
	if err != nil {
		return err
	}
	_, err = coll.UpdateOne(ctx,
		bson.M{"trackingId": trackingID, "openedAt": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"openedAt": at}},
	)
	if err != nil {
		return err
	}
	_, err = coll.UpdateOne(ctx,
		bson.M{"trackingId": trackingID, "status": bson.M{"$in": []string{types.DELIVERY_STATUS_SENT, types.DELIVERY_STATUS_DELIVERED}}},
		bson.M{"$set": bson.M{"status": types.DELIVERY_STATUS_OPENED}},
	)
	return err
}

// MarkClicked bumps the click counter and implies an open: a click on a
// log that never registered an open advances it all the same.
func (dbService *MailerDBService) MarkClicked(trackingID string, at time.Time) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	coll := dbService.collectionDeliveryLogs()
	_, err := coll.UpdateOne(ctx,
		bson.M{"trackingId": trackingID},
		bson.M{"$inc": bson.M{"clickCount": 1}},
	)
	if err != nil {
		return err
	}
	_, err = coll.UpdateOne(ctx,
		bson.M{"trackingId": trackingID, "clickedAt": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"clickedAt": at}},
	)
	if err != nil {
		return err
	}
	_, err = coll.UpdateOne(ctx,
		bson.M{"trackingId": trackingID, "status": bson.M{"$in": []string{types.DELIVERY_STATUS_SENT, types.DELIVERY_STATUS_DELIVERED, types.DELIVERY_STATUS_OPENED}}},
		bson.M{"$set": bson.M{"status": types.DELIVERY_STATUS_CLICKED}},
	)
	return err
}

func (dbService *MailerDBService) MarkBounced(trackingID, bounceType, reason string, at time.Time) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	_, err := dbService.collectionDeliveryLogs().UpdateOne(ctx,
		bson.M{"trackingId": trackingID},
		bson.M{"$set": bson.M{
			"status":       types.DELIVERY_STATUS_BOUNCED,
			"bounceType":   bounceType,
			"bounceReason": reason,
			"bouncedAt":    at,
		}},
	)
	return err
}

func (dbService *MailerDBService) MarkComplaint(trackingID string) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	_, err := dbService.collectionDeliveryLogs().UpdateOne(ctx,
		bson.M{"trackingId": trackingID},
		bson.M{"$set": bson.M{"isComplaint": true}},
	)
	return err
}

func (dbService *MailerDBService) FindDeliveryLogs(dealerID string, since time.Time, limit int) ([]types.DeliveryLog, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	filter := bson.M{"sentAt": bson.M{"$gte": since}}
	if dealerID != "" {
		filter["dealerId"] = dealerID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "sentAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := dbService.collectionDeliveryLogs().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	logs := []types.DeliveryLog{}
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (dbService *MailerDBService) CountDeliveries(dealerID string, since time.Time) (types.DeliveryCounters, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	base := bson.M{"sentAt": bson.M{"$gte": since}}
	if dealerID != "" {
		base["dealerId"] = dealerID
	}
	coll := dbService.collectionDeliveryLogs()

	count := func(extra bson.M) (int64, error) {
		filter := bson.M{}
		for k, v := range base {
			filter[k] = v
		}
		for k, v := range extra {
			filter[k] = v
		}
		return coll.CountDocuments(ctx, filter)
	}

	var counters types.DeliveryCounters
	var err error
	if counters.Sent, err = count(bson.M{}); err != nil {
		return counters, err
	}
	if counters.Delivered, err = count(bson.M{"deliveredAt": bson.M{"$exists": true}}); err != nil {
		return counters, err
	}
	if counters.Opened, err = count(bson.M{"openCount": bson.M{"$gt": 0}}); err != nil {
		return counters, err
	}
	if counters.Clicked, err = count(bson.M{"clickCount": bson.M{"$gt": 0}}); err != nil {
		return counters, err
	}
	if counters.Bounced, err = count(bson.M{"status": types.DELIVERY_STATUS_BOUNCED}); err != nil {
		return counters, err
	}
	if counters.Complaints, err = count(bson.M{"isComplaint": true}); err != nil {
		return counters, err
	}
	return counters, nil
}
