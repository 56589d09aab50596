package mailer

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

func (dbService *MailerDBService) GetDomainConfig(domain string) (*types.DomainConfig, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	var config types.DomainConfig
	if err := dbService.collectionDomainConfigs().FindOne(ctx, bson.M{"domain": domain}).Decode(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveDomainConfig upserts on the domain name so key rotation and
// verification writes go through the same path as first-time setup.
func (dbService *MailerDBService) SaveDomainConfig(config *types.DomainConfig) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	now := time.Now()
	config.UpdatedAt = now
	if config.CreatedAt.IsZero() {
		config.CreatedAt = now
	}

	filter := bson.M{"domain": config.Domain}
	update := bson.M{"$set": config}
	opts := options.Update().SetUpsert(true)

	res, err := dbService.collectionDomainConfigs().UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return err
	}
	if res.UpsertedID != nil {
		config.ID = res.UpsertedID.(primitive.ObjectID)
	}
	return nil
}

func (dbService *MailerDBService) ListDomainConfigs() ([]types.DomainConfig, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	cursor, err := dbService.collectionDomainConfigs().Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "domain", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	configs := []types.DomainConfig{}
	if err := cursor.All(ctx, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func (dbService *MailerDBService) DeleteDomainConfig(domain string) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	_, err := dbService.collectionDomainConfigs().DeleteOne(ctx, bson.M{"domain": domain})
	return err
}
