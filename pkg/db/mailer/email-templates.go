package mailer

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

func (dbService *MailerDBService) GetEmailTemplateBySlug(slug string) (*types.EmailTemplate, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	var template types.EmailTemplate
	err := dbService.collectionEmailTemplates().FindOne(ctx,
		bson.M{"slug": slug, "isActive": true}).Decode(&template)
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (dbService *MailerDBService) SaveEmailTemplate(template *types.EmailTemplate) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	filter := bson.M{"slug": template.Slug}
	update := bson.M{"$set": bson.M{
		"slug":        template.Slug,
		"subject":     template.Subject,
		"htmlContent": template.HTMLContent,
		"textContent": template.TextContent,
		"isActive":    template.IsActive,
	}}

	res, err := dbService.collectionEmailTemplates().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return err
	}
	if res.UpsertedID != nil {
		template.ID = res.UpsertedID.(primitive.ObjectID)
	}
	return nil
}

func (dbService *MailerDBService) ListEmailTemplates() ([]types.EmailTemplate, error) {
	ctx, cancel := dbService.getContext()
	defer cancel()

	cursor, err := dbService.collectionEmailTemplates().Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "slug", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	templates := []types.EmailTemplate{}
	if err := cursor.All(ctx, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

func (dbService *MailerDBService) DeleteEmailTemplate(slug string) error {
	ctx, cancel := dbService.getContext()
	defer cancel()

	_, err := dbService.collectionEmailTemplates().DeleteOne(ctx, bson.M{"slug": slug})
	return err
}
