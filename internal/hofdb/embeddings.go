package hofdb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/halloffame/hof-server/internal/models"
)

// EmbeddingRepo is the typed repository over the feature-embeddings
// collection.
type EmbeddingRepo struct {
	coll *mongo.Collection
}

// FindByScreenshot loads the embedding of one screenshot, or nil when
// none exists.
func (r *EmbeddingRepo) FindByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) (*models.FeatureEmbedding, error) {
	var e models.FeatureEmbedding
	err := r.coll.FindOne(ctx, bson.M{"screenshotId": screenshotID}).Decode(&e)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err, "embedding")
	}
	return &e, nil
}

// FindByIDs resolves embeddings back to screenshot ids by their 16-hex
// keys.
func (r *EmbeddingRepo) FindByIDs(ctx context.Context, ids []string) ([]models.FeatureEmbedding, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"screenshotId": 1}))
	if err != nil {
		return nil, fmt.Errorf("embedding query failed: %w", err)
	}
	defer cursor.Close(ctx)

	var embeddings []models.FeatureEmbedding
	if err := cursor.All(ctx, &embeddings); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// All streams every embedding to fn. Used by the lazy index build.
func (r *EmbeddingRepo) All(ctx context.Context, fn func(e *models.FeatureEmbedding) error) error {
	cursor, err := r.coll.Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("embedding scan failed: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var e models.FeatureEmbedding
		if err := cursor.Decode(&e); err != nil {
			return err
		}
		if err := fn(&e); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// Upsert writes an embedding row keyed by its 16-hex id.
func (r *EmbeddingRepo) Upsert(ctx context.Context, e *models.FeatureEmbedding) error {
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": e.ID}, e,
		options.Replace().SetUpsert(true))
	return mapErr(err, "embedding")
}

// DeleteByScreenshot removes the embedding of one screenshot,
// tolerating absence.
func (r *EmbeddingRepo) DeleteByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"screenshotId": screenshotID})
	return mapErr(err, "embedding")
}
