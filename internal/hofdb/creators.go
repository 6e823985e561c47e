package hofdb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/models"
)

// CreatorRepo is the typed repository over the creators collection.
type CreatorRepo struct {
	coll *mongo.Collection
}

// FindByID loads a creator by internal id.
func (r *CreatorRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Creator, error) {
	var c models.Creator
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		return nil, mapErr(err, "creator")
	}
	return &c, nil
}

// FindByCreatorID loads a creator by its externally issued id.
func (r *CreatorRepo) FindByCreatorID(ctx context.Context, creatorID string) (*models.Creator, error) {
	var c models.Creator
	err := r.coll.FindOne(ctx, bson.M{"creatorId": creatorID}).Decode(&c)
	if err != nil {
		return nil, mapErr(err, "creator")
	}
	return &c, nil
}

// FindMatching returns every creator matching the external id, the
// name or the name slug. Used by the mod authentication case analysis.
func (r *CreatorRepo) FindMatching(ctx context.Context, creatorID string, name, slug *string) ([]models.Creator, error) {
	or := bson.A{bson.M{"creatorId": creatorID}}
	if name != nil {
		or = append(or, bson.M{"creatorName": *name})
	}
	if slug != nil {
		or = append(or, bson.M{"creatorNameSlug": *slug})
	}

	cursor, err := r.coll.Find(ctx, bson.M{"$or": or})
	if err != nil {
		return nil, fmt.Errorf("creator lookup failed: %w", err)
	}
	defer cursor.Close(ctx)

	var creators []models.Creator
	if err := cursor.All(ctx, &creators); err != nil {
		return nil, err
	}
	return creators, nil
}

// Insert persists a new creator, assigning its internal id.
func (r *CreatorRepo) Insert(ctx context.Context, c *models.Creator) error {
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.coll.InsertOne(ctx, c)
	return mapErr(err, "creator")
}

// Update replaces the stored creator document.
func (r *CreatorRepo) Update(ctx context.Context, c *models.Creator) error {
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": c.ID}, c)
	if err != nil {
		return mapErr(err, "creator")
	}
	if res.MatchedCount == 0 {
		return hoferr.New(hoferr.KindNotFound, "creator not found")
	}
	return nil
}

// SetNeedsTranslation flags or clears the pending-translation marker,
// storing the translated triple when one is provided.
func (r *CreatorRepo) SetNeedsTranslation(ctx context.Context, id primitive.ObjectID, needs bool, translated *models.TranslatedName) error {
	update := bson.M{"needsTranslation": needs}
	if translated != nil {
		update["translatedName"] = translated
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": update})
	if err != nil {
		return mapErr(err, "creator")
	}
	if res.MatchedCount == 0 {
		return hoferr.New(hoferr.KindNotFound, "creator not found")
	}
	return nil
}

// SampleSupporter uniform-samples one creator with the supporter flag,
// returning nil when none exists.
func (r *CreatorRepo) SampleSupporter(ctx context.Context) (*models.Creator, error) {
	cursor, err := r.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"isSupporter": true}}},
		{{Key: "$sample", Value: bson.M{"size": 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("supporter sample failed: %w", err)
	}
	defer cursor.Close(ctx)

	var creators []models.Creator
	if err := cursor.All(ctx, &creators); err != nil {
		return nil, err
	}
	if len(creators) == 0 {
		return nil, nil
	}
	return &creators[0], nil
}

// IncrementSocialClick bumps the click counter of one social link.
func (r *CreatorRepo) IncrementSocialClick(ctx context.Context, id primitive.ObjectID, platform string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "socials.platform": platform},
		bson.M{"$inc": bson.M{"socials.$.clicks": 1}})
	if err != nil {
		return mapErr(err, "creator social")
	}
	if res.MatchedCount == 0 {
		return hoferr.New(hoferr.KindNotFound, "creator social not found")
	}
	return nil
}
