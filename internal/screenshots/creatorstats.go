package screenshots

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// CreatorStats are the aggregate numbers shown on a creator profile.
type CreatorStats struct {
	Screenshots    int `bson:"screenshots" json:"screenshots"`
	ViewsCount     int `bson:"viewsCount" json:"viewsCount"`
	FavoritesCount int `bson:"favoritesCount" json:"favoritesCount"`
}

// StatsForCreator sums the counters over a creator's screenshots. A
// creator without screenshots gets all zeroes.
func (e *Engine) StatsForCreator(ctx context.Context, creatorID primitive.ObjectID) (*CreatorStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"creatorId": creatorID}}},
		{{Key: "$group", Value: bson.M{
			"_id":            nil,
			"screenshots":    bson.M{"$sum": 1},
			"viewsCount":     bson.M{"$sum": "$viewsCount"},
			"favoritesCount": bson.M{"$sum": "$favoritesCount"},
		}}},
	}

	var out []CreatorStats
	if err := e.agg.Aggregate(ctx, "screenshots", pipeline, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return &CreatorStats{}, nil
	}
	return &out[0], nil
}
