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

// FavoriteRepo is the typed repository over the favorites collection.
type FavoriteRepo struct {
	coll *mongo.Collection
}

// FindByIdentity returns the favorite rows on a screenshot matching
// any of the creator's identities (id, known hwids, known ips).
func (r *FavoriteRepo) FindByIdentity(ctx context.Context, screenshotID primitive.ObjectID, creator *models.Creator) ([]models.Favorite, error) {
	filter := bson.M{
		"screenshotId": screenshotID,
		"$or":          identityOr(creator),
	}
	return r.find(ctx, filter)
}

// FindByIdentityAcross returns the favorite rows matching the
// creator's identities across a set of screenshots. Backs the batched
// is-favorite query.
func (r *FavoriteRepo) FindByIdentityAcross(ctx context.Context, screenshotIDs []primitive.ObjectID, creator *models.Creator) ([]models.Favorite, error) {
	filter := bson.M{
		"screenshotId": bson.M{"$in": screenshotIDs},
		"$or":          identityOr(creator),
	}
	return r.find(ctx, filter)
}

// FindByScreenshot returns every favorite row of one screenshot.
func (r *FavoriteRepo) FindByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) ([]models.Favorite, error) {
	return r.find(ctx, bson.M{"screenshotId": screenshotID})
}

// FindScreenshotIDsByIdentity returns the ids of the screenshots the
// creator favorited under any of their identities.
func (r *FavoriteRepo) FindScreenshotIDsByIdentity(ctx context.Context, creator *models.Creator) ([]primitive.ObjectID, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"$or": identityOr(creator)},
		options.Find().SetProjection(bson.M{"screenshotId": 1}))
	if err != nil {
		return nil, fmt.Errorf("favorite query failed: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ScreenshotID primitive.ObjectID `bson:"screenshotId"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	ids := make([]primitive.ObjectID, len(rows))
	for i, row := range rows {
		ids[i] = row.ScreenshotID
	}
	return ids, nil
}

func (r *FavoriteRepo) find(ctx context.Context, filter bson.M) ([]models.Favorite, error) {
	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("favorite query failed: %w", err)
	}
	defer cursor.Close(ctx)

	var favorites []models.Favorite
	if err := cursor.All(ctx, &favorites); err != nil {
		return nil, err
	}
	return favorites, nil
}

// Insert persists a new favorite row.
func (r *FavoriteRepo) Insert(ctx context.Context, f *models.Favorite) error {
	if f.ID.IsZero() {
		f.ID = primitive.NewObjectID()
	}
	_, err := r.coll.InsertOne(ctx, f)
	return mapErr(err, "favorite")
}

// Delete removes one favorite row by id.
func (r *FavoriteRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapErr(err, "favorite")
	}
	if res.DeletedCount == 0 {
		return hoferr.New(hoferr.KindNotFound, "favorite not found")
	}
	return nil
}

// DeleteByScreenshot removes every favorite of one screenshot.
func (r *FavoriteRepo) DeleteByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"screenshotId": screenshotID})
	return mapErr(err, "favorite")
}

// Reparent moves one favorite row to another screenshot, keeping its
// original timestamp.
func (r *FavoriteRepo) Reparent(ctx context.Context, id, targetScreenshotID primitive.ObjectID) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"screenshotId": targetScreenshotID}})
	if err != nil {
		return mapErr(err, "favorite")
	}
	if res.MatchedCount == 0 {
		return hoferr.New(hoferr.KindNotFound, "favorite not found")
	}
	return nil
}

// SetFavoritedAt rewrites the timestamp of one favorite row. Used by
// merge when an earlier duplicate wins.
func (r *FavoriteRepo) SetFavoritedAt(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"favoritedAt": at}})
	if err != nil {
		return mapErr(err, "favorite")
	}
	if res.MatchedCount == 0 {
		return hoferr.New(hoferr.KindNotFound, "favorite not found")
	}
	return nil
}

// ViewRepo is the typed repository over the views collection.
type ViewRepo struct {
	coll *mongo.Collection
}

// Upsert records a view, creating the row on first view and refreshing
// viewedAt on a re-view. Returns whether the row was created.
func (r *ViewRepo) Upsert(ctx context.Context, screenshotID, creatorID primitive.ObjectID, at time.Time) (created bool, err error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"screenshotId": screenshotID, "creatorId": creatorID},
		bson.M{"$set": bson.M{"viewedAt": at}},
		options.Update().SetUpsert(true))
	if err != nil {
		return false, mapErr(err, "view")
	}
	return res.UpsertedCount > 0, nil
}

// FindScreenshotIDsByCreator returns the ids of the screenshots viewed
// by one creator, optionally restricted to views after the cutoff.
func (r *ViewRepo) FindScreenshotIDsByCreator(ctx context.Context, creatorID primitive.ObjectID, since *time.Time) ([]primitive.ObjectID, error) {
	filter := bson.M{"creatorId": creatorID}
	if since != nil {
		filter["viewedAt"] = bson.M{"$gte": *since}
	}

	cursor, err := r.coll.Find(ctx, filter,
		options.Find().SetProjection(bson.M{"screenshotId": 1}))
	if err != nil {
		return nil, fmt.Errorf("view query failed: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ScreenshotID primitive.ObjectID `bson:"screenshotId"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	ids := make([]primitive.ObjectID, len(rows))
	for i, row := range rows {
		ids[i] = row.ScreenshotID
	}
	return ids, nil
}

// FindByScreenshot returns every view row of one screenshot.
func (r *ViewRepo) FindByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) ([]models.View, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"screenshotId": screenshotID})
	if err != nil {
		return nil, fmt.Errorf("view query failed: %w", err)
	}
	defer cursor.Close(ctx)

	var views []models.View
	if err := cursor.All(ctx, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// Delete removes one view row by id.
func (r *ViewRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapErr(err, "view")
	}
	if res.DeletedCount == 0 {
		return hoferr.New(hoferr.KindNotFound, "view not found")
	}
	return nil
}

// DeleteByScreenshot removes every view of one screenshot.
func (r *ViewRepo) DeleteByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"screenshotId": screenshotID})
	return mapErr(err, "view")
}

// Reparent moves one view row to another screenshot, keeping its
// original timestamp.
func (r *ViewRepo) Reparent(ctx context.Context, id, targetScreenshotID primitive.ObjectID) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"screenshotId": targetScreenshotID}})
	if err != nil {
		return mapErr(err, "view")
	}
	if res.MatchedCount == 0 {
		return hoferr.New(hoferr.KindNotFound, "view not found")
	}
	return nil
}

// SetViewedAt rewrites the timestamp of one view row.
func (r *ViewRepo) SetViewedAt(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"viewedAt": at}})
	if err != nil {
		return mapErr(err, "view")
	}
	if res.MatchedCount == 0 {
		return hoferr.New(hoferr.KindNotFound, "view not found")
	}
	return nil
}

// identityOr builds the creator-identity OR filter shared by favorite
// and quota queries: same creator id, or any known hwid, or any known
// ip.
func identityOr(creator *models.Creator) bson.A {
	or := bson.A{bson.M{"creatorId": creator.ID}}
	if len(creator.HWIDs) > 0 {
		or = append(or, bson.M{"hwid": bson.M{"$in": creator.HWIDs}})
	}
	if len(creator.IPs) > 0 {
		or = append(or, bson.M{"ip": bson.M{"$in": creator.IPs}})
	}
	return or
}
