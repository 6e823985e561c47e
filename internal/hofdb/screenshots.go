package hofdb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/models"
)

// ScreenshotRepo is the typed repository over the screenshots
// collection.
type ScreenshotRepo struct {
	coll *mongo.Collection
}

// Insert persists a new screenshot, assigning its id.
func (r *ScreenshotRepo) Insert(ctx context.Context, s *models.Screenshot) error {
	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.coll.InsertOne(ctx, s)
	return mapErr(err, "screenshot")
}

// FindByID loads one screenshot.
func (r *ScreenshotRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Screenshot, error) {
	var s models.Screenshot
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if err != nil {
		return nil, mapErr(err, "screenshot")
	}
	return &s, nil
}

// FindByCreator lists screenshots of one creator, newest first.
func (r *ScreenshotRepo) FindByCreator(ctx context.Context, creatorID primitive.ObjectID) ([]models.Screenshot, error) {
	return r.find(ctx, bson.M{"creatorId": creatorID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

// FindByIDs loads the given screenshots, newest first.
func (r *ScreenshotRepo) FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Screenshot, error) {
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

// FindCreatedSince returns the screenshots created after the cutoff
// that match any of the given identity filters, oldest first. Backs
// the 24-hour upload quota.
func (r *ScreenshotRepo) FindCreatedSince(ctx context.Context, since time.Time, identityOr []bson.M) ([]models.Screenshot, error) {
	filter := bson.M{
		"createdAt": bson.M{"$gte": since},
		"$or":       identityOr,
	}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
}

func (r *ScreenshotRepo) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]models.Screenshot, error) {
	cursor, err := r.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("screenshot query failed: %w", err)
	}
	defer cursor.Close(ctx)

	var screenshots []models.Screenshot
	if err := cursor.All(ctx, &screenshots); err != nil {
		return nil, err
	}
	return screenshots, nil
}

// FindWithNonzeroCounters returns the screenshots with any recorded
// views or favorites. Backs the hourly per-day averages job.
func (r *ScreenshotRepo) FindWithNonzeroCounters(ctx context.Context) ([]models.Screenshot, error) {
	return r.find(ctx, bson.M{"$or": bson.A{
		bson.M{"viewsCount": bson.M{"$gt": 0}},
		bson.M{"favoritesCount": bson.M{"$gt": 0}},
	}})
}

// SetBlobNames fills the three blob names after a successful upload.
func (r *ScreenshotRepo) SetBlobNames(ctx context.Context, id primitive.ObjectID, thumbnail, fhd, fourK string) error {
	return r.updateOne(ctx, id, bson.M{"$set": bson.M{
		"blobThumbnail": thumbnail,
		"blobFhd":       fhd,
		"blobFourK":     fourK,
	}})
}

// SetReported flags a screenshot as reported by the given creator.
func (r *ScreenshotRepo) SetReported(ctx context.Context, id, reporterID primitive.ObjectID) error {
	return r.updateOne(ctx, id, bson.M{"$set": bson.M{
		"isReported":   true,
		"reportedById": reporterID,
	}})
}

// SetApproved approves a screenshot, clearing any report.
func (r *ScreenshotRepo) SetApproved(ctx context.Context, id primitive.ObjectID) error {
	return r.updateOne(ctx, id, bson.M{
		"$set":   bson.M{"isApproved": true, "isReported": false},
		"$unset": bson.M{"reportedById": ""},
	})
}

// SetTranslatedCityName stores the translated city-name triple.
func (r *ScreenshotRepo) SetTranslatedCityName(ctx context.Context, id primitive.ObjectID, translated *models.TranslatedName) error {
	return r.updateOne(ctx, id, bson.M{"$set": bson.M{"translatedCityName": translated}})
}

// IncViewsCount eagerly bumps the total view counter.
func (r *ScreenshotRepo) IncViewsCount(ctx context.Context, id primitive.ObjectID) error {
	return r.updateOne(ctx, id, bson.M{"$inc": bson.M{"viewsCount": 1}})
}

// IncFavoritesCount adjusts the favorite counter by delta.
func (r *ScreenshotRepo) IncFavoritesCount(ctx context.Context, id primitive.ObjectID, delta int) error {
	return r.updateOne(ctx, id, bson.M{"$inc": bson.M{"favoritesCount": delta}})
}

// SetCounters writes the four reconciled counters.
func (r *ScreenshotRepo) SetCounters(ctx context.Context, id primitive.ObjectID, views, uniqueViews, favorites, percentage int) error {
	return r.updateOne(ctx, id, bson.M{"$set": bson.M{
		"viewsCount":           views,
		"uniqueViewsCount":     uniqueViews,
		"favoritesCount":       favorites,
		"favoritingPercentage": percentage,
	}})
}

// SetPerDayAverages writes the derived per-day counters.
func (r *ScreenshotRepo) SetPerDayAverages(ctx context.Context, id primitive.ObjectID, viewsPerDay, favoritesPerDay float64, percentage int) error {
	return r.updateOne(ctx, id, bson.M{"$set": bson.M{
		"viewsPerDay":          viewsPerDay,
		"favoritesPerDay":      favoritesPerDay,
		"favoritingPercentage": percentage,
	}})
}

// Delete removes one screenshot row.
func (r *ScreenshotRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapErr(err, "screenshot")
	}
	if res.DeletedCount == 0 {
		return hoferr.New(hoferr.KindNotFound, "screenshot not found")
	}
	return nil
}

func (r *ScreenshotRepo) updateOne(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return mapErr(err, "screenshot")
	}
	if res.MatchedCount == 0 {
		return hoferr.New(hoferr.KindNotFound, "screenshot not found")
	}
	return nil
}
