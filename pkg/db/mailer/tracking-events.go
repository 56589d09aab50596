package mailer

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

func (dbService *MailerDBService) AddTrackingEvent(event types.TrackingEvent) (types.TrackingEvent, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	res, err := dbService.collectionTrackingEvents().InsertOne(ctx, event)
	if err != nil {
		return event, err
	}
	event.ID = res.InsertedID.(primitive.ObjectID)
	return event, nil
}

func (dbService *MailerDBService) FindTrackingEvents(trackingID string) ([]types.TrackingEvent, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	cursor, err := dbService.collectionTrackingEvents().Find(ctx,
		bson.M{"trackingId": trackingID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	events := []types.TrackingEvent{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}
