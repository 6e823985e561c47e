package hofdb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/halloffame/hof-server/internal/models"
)

// BanRepo is the typed repository over the bans collection.
type BanRepo struct {
	coll *mongo.Collection
}

// FindMatching returns the ban rows matching any of the provided keys.
// Nil keys are skipped; at least one must be set.
func (r *BanRepo) FindMatching(ctx context.Context, ip, hwid *string, creatorID *primitive.ObjectID) ([]models.Ban, error) {
	var or bson.A
	if ip != nil {
		or = append(or, bson.M{"ip": *ip})
	}
	if hwid != nil {
		or = append(or, bson.M{"hwid": *hwid})
	}
	if creatorID != nil {
		or = append(or, bson.M{"creatorId": *creatorID})
	}
	if len(or) == 0 {
		return nil, fmt.Errorf("ban lookup requires at least one key")
	}

	cursor, err := r.coll.Find(ctx, bson.M{"$or": or})
	if err != nil {
		return nil, fmt.Errorf("ban query failed: %w", err)
	}
	defer cursor.Close(ctx)

	var bans []models.Ban
	if err := cursor.All(ctx, &bans); err != nil {
		return nil, err
	}
	return bans, nil
}

// InsertMany writes a batch of ban rows in one call.
func (r *BanRepo) InsertMany(ctx context.Context, bans []models.Ban) error {
	if len(bans) == 0 {
		return nil
	}
	docs := make([]any, len(bans))
	now := time.Now().UTC()
	for i := range bans {
		if bans[i].BannedAt.IsZero() {
			bans[i].BannedAt = now
		}
		docs[i] = bans[i]
	}
	_, err := r.coll.InsertMany(ctx, docs)
	return mapErr(err, "ban")
}
