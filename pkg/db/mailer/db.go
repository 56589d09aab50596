package mailer

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dealerkit/mailer-backend/pkg/db"
)

// collection names
const (
	COLLECTION_NAME_OUTBOUND_EMAILS = "outbound-emails"
	COLLECTION_NAME_DELIVERY_LOGS   = "delivery-logs"
	COLLECTION_NAME_DOMAIN_CONFIGS  = "domain-configs"
	COLLECTION_NAME_SUPPRESSIONS    = "suppressions"
	COLLECTION_NAME_TRACKING_EVENTS = "tracking-events"
	COLLECTION_NAME_EMAIL_TEMPLATES = "email-templates"
)

type MailerDBService struct {
	DBClient     *mongo.Client
	timeout      int
	DBNamePrefix string
}

func NewMailerDBService(configs db.DBConfig) (*MailerDBService, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(configs.Timeout)*time.Second)
	defer cancel()

	dbClient, err := mongo.Connect(ctx,
		options.Client().ApplyURI(configs.URI),
		options.Client().SetMaxConnIdleTime(time.Duration(configs.IdleConnTimeout)*time.Second),
		options.Client().SetMaxPoolSize(configs.MaxPoolSize),
	)
	if err != nil {
		return nil, err
	}

	ctx, conCancel := context.WithTimeout(context.Background(), time.Duration(configs.Timeout)*time.Second)
	err = dbClient.Ping(ctx, nil)
	defer conCancel()
	if err != nil {
		return nil, err
	}

	mailerDBSc := &MailerDBService{
		DBClient:     dbClient,
		timeout:      configs.Timeout,
		DBNamePrefix: configs.DBNamePrefix,
	}

	if configs.RunIndexCreation {
		if err := mailerDBSc.ensureIndexes(); err != nil {
			slog.Error("Error ensuring indexes for mailer DB", slog.String("error", err.Error()))
		}
	}

	return mailerDBSc, nil
}

func (dbService *MailerDBService) getDBName() string {
	return dbService.DBNamePrefix + "mailerDB"
}

func (dbService *MailerDBService) collectionOutboundEmails() *mongo.Collection {
	return dbService.DBClient.Database(dbService.getDBName()).Collection(COLLECTION_NAME_OUTBOUND_EMAILS)
}

func (dbService *MailerDBService) collectionDeliveryLogs() *mongo.Collection {
	return dbService.DBClient.Database(dbService.getDBName()).Collection(COLLECTION_NAME_DELIVERY_LOGS)
}

func (dbService *MailerDBService) collectionDomainConfigs() *mongo.Collection {
	return dbService.DBClient.Database(dbService.getDBName()).Collection(COLLECTION_NAME_DOMAIN_CONFIGS)
}

func (dbService *MailerDBService) collectionSuppressions() *mongo.Collection {
	return dbService.DBClient.Database(dbService.getDBName()).Collection(COLLECTION_NAME_SUPPRESSIONS)
}

func (dbService *MailerDBService) collectionTrackingEvents() *mongo.Collection {
	return dbService.DBClient.Database(dbService.getDBName()).Collection(COLLECTION_NAME_TRACKING_EVENTS)
}

func (dbService *MailerDBService) collectionEmailTemplates() *mongo.Collection {
	return dbService.DBClient.Database(dbService.getDBName()).Collection(COLLECTION_NAME_EMAIL_TEMPLATES)
}

func (dbService *MailerDBService) getContext() (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(dbService.timeout)*time.Second)
}

func (dbService *MailerDBService) ensureIndexes() error {
	slog.Debug("Ensuring indexes for mailer DB")
	ctx, cancel := dbService.getContext()
	defer cancel()

	// Suppressions: one entry per address.
	_, err := dbService.collectionSuppressions().Indexes().CreateOne(
		ctx,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	)
	if err != nil {
		slog.Error("Error creating index for suppressions", slog.String("error", err.Error()))
	}

	// Domain configs: one config per domain.
	_, err = dbService.collectionDomainConfigs().Indexes().CreateOne(
		ctx,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "domain", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	)
	if err != nil {
		slog.Error("Error creating index for domain configs", slog.String("error", err.Error()))
	}

	// Outbound queue: the processing tick selects on status and due
	// times ordered by priority and age.
	_, err = dbService.collectionOutboundEmails().Indexes().CreateOne(
		ctx,
		mongo.IndexModel{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "scheduledAt", Value: 1},
				{Key: "priority", Value: 1},
				{Key: "createdAt", Value: 1},
			},
		},
	)
	if err != nil {
		slog.Error("Error creating index for outbound emails", slog.String("error", err.Error()))
	}

	// Delivery logs: tracking lookups patch by trackingId, webhooks by
	// provider message id.
	_, err = dbService.collectionDeliveryLogs().Indexes().CreateMany(
		ctx,
		[]mongo.IndexModel{
			{Keys: bson.D{{Key: "trackingId", Value: 1}}},
			{Keys: bson.D{{Key: "providerMessageId", Value: 1}}},
			{Keys: bson.D{{Key: "sentAt", Value: 1}}},
		},
	)
	if err != nil {
		slog.Error("Error creating indexes for delivery logs", slog.String("error", err.Error()))
	}

	// Email templates: addressed by slug.
	_, err = dbService.collectionEmailTemplates().Indexes().CreateOne(
		ctx,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "slug", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	)
	if err != nil {
		slog.Error("Error creating index for email templates", slog.String("error", err.Error()))
	}

	return nil
}
