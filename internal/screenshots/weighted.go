package screenshots

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

// Selection algorithms.
const (
	AlgoRandom        = "random"
	AlgoTrending      = "trending"
	AlgoRecent        = "recent"
	AlgoArcheologist  = "archeologist"
	AlgoSupporter     = "supporter"
	AlgoRandomDefault = "random_default"
)

// DefaultViewMaxAgeDays bounds the already-seen window when the caller
// does not supply one.
const DefaultViewMaxAgeDays = 60

// trendingMinPercentage is the floor a screenshot's favoriting
// percentage must clear to count as trending.
const trendingMinPercentage = 1

// topPoolSize is how deep the ranked algorithms look before sampling.
const topPoolSize = 100

// Weights are the relative draw weights of the selection algorithms.
// A zero weight disables its algorithm.
type Weights struct {
	Random       int
	Trending     int
	Recent       int
	Archeologist int
	Supporter    int
}

// DefaultWeights mirrors the mod's stock slot distribution.
var DefaultWeights = Weights{
	Random:       40,
	Trending:     20,
	Recent:       20,
	Archeologist: 10,
	Supporter:    10,
}

type weightedAlgorithm struct {
	name   string
	weight int
}

// GetWeighted draws one screenshot for the viewer. A weighted roll
// picks an algorithm; when it produces nothing its weight is zeroed and
// the roll repeats over the remaining ones. With every weight exhausted
// an unfiltered random draw is the fallback, tagged random_default.
func (e *Engine) GetWeighted(ctx context.Context, w Weights, viewer *models.Creator, viewMaxAgeDays int) (*models.Screenshot, error) {
	if viewMaxAgeDays <= 0 {
		viewMaxAgeDays = DefaultViewMaxAgeDays
	}

	excluded, err := e.seen.GetViewedFor(ctx, viewer, viewMaxAgeDays)
	if err != nil {
		return nil, err
	}

	algorithms := []weightedAlgorithm{
		{AlgoRandom, w.Random},
		{AlgoTrending, w.Trending},
		{AlgoRecent, w.Recent},
		{AlgoArcheologist, w.Archeologist},
		{AlgoSupporter, w.Supporter},
	}

	for {
		total := 0
		for _, a := range algorithms {
			total += a.weight
		}
		if total == 0 {
			break
		}

		roll := e.rand.Float64() * float64(total)
		for i := range algorithms {
			if algorithms[i].weight == 0 {
				continue
			}
			if roll >= float64(algorithms[i].weight) {
				roll -= float64(algorithms[i].weight)
				continue
			}

			screenshot, err := e.drawWith(ctx, algorithms[i].name, excluded)
			if err != nil {
				return nil, err
			}
			if screenshot != nil {
				screenshot.Algorithm = algorithms[i].name
				return screenshot, nil
			}
			// Dry algorithm; disable it and reroll.
			algorithms[i].weight = 0
			break
		}
	}

	screenshot, err := e.sampleRandom(ctx, nil)
	if err != nil {
		return nil, err
	}
	if screenshot == nil {
		return nil, hoferr.New(hoferr.KindNotFound, "no screenshots available")
	}
	screenshot.Algorithm = AlgoRandomDefault
	return screenshot, nil
}

func (e *Engine) drawWith(ctx context.Context, algorithm string, excluded []primitive.ObjectID) (*models.Screenshot, error) {
	switch algorithm {
	case AlgoRandom:
		return e.sampleRandom(ctx, excluded)
	case AlgoTrending:
		return e.sampleTrending(ctx, excluded)
	case AlgoRecent:
		return e.sampleRecent(ctx, excluded)
	case AlgoArcheologist:
		return e.sampleArcheologist(ctx, excluded)
	case AlgoSupporter:
		return e.sampleSupporter(ctx, excluded)
	default:
		return nil, fmt.Errorf("unknown selection algorithm %q", algorithm)
	}
}

// eligible is the base filter every algorithm shares: never reported,
// never something the viewer already saw.
func eligible(excluded []primitive.ObjectID) bson.M {
	match := bson.M{"isReported": false}
	if len(excluded) > 0 {
		match["_id"] = bson.M{"$nin": excluded}
	}
	return match
}

func (e *Engine) sampleOne(ctx context.Context, pipeline mongo.Pipeline) (*models.Screenshot, error) {
	var out []models.Screenshot
	if err := e.agg.Aggregate(ctx, "screenshots", pipeline, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// sampleRandom draws uniformly over the eligible pool; a nil excluded
// set means the unfiltered fallback.
func (e *Engine) sampleRandom(ctx context.Context, excluded []primitive.ObjectID) (*models.Screenshot, error) {
	return e.sampleOne(ctx, mongo.Pipeline{
		{{Key: "$match", Value: eligible(excluded)}},
		{{Key: "$sample", Value: bson.M{"size": 1}}},
	})
}

// sampleTrending samples one of the 100 highest favoriting percentages
// above the trending floor.
func (e *Engine) sampleTrending(ctx context.Context, excluded []primitive.ObjectID) (*models.Screenshot, error) {
	match := eligible(excluded)
	match["favoritingPercentage"] = bson.M{"$gt": trendingMinPercentage}
	return e.sampleOne(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "favoritingPercentage", Value: -1}}}},
		{{Key: "$limit", Value: topPoolSize}},
		{{Key: "$sample", Value: bson.M{"size": 1}}},
	})
}

// sampleRecent samples one of the 100 least-viewed screenshots of the
// recency window, giving fresh uploads exposure.
func (e *Engine) sampleRecent(ctx context.Context, excluded []primitive.ObjectID) (*models.Screenshot, error) {
	match := eligible(excluded)
	match["createdAt"] = bson.M{"$gte": e.recencyCutoff()}
	return e.sampleOne(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "viewsCount", Value: 1}, {Key: "createdAt", Value: 1}}}},
		{{Key: "$limit", Value: topPoolSize}},
		{{Key: "$sample", Value: bson.M{"size": 1}}},
	})
}

// sampleArcheologist digs up one of the 100 oldest least-viewed
// screenshots past the recency window.
func (e *Engine) sampleArcheologist(ctx context.Context, excluded []primitive.ObjectID) (*models.Screenshot, error) {
	match := eligible(excluded)
	match["createdAt"] = bson.M{"$lt": e.recencyCutoff()}
	return e.sampleOne(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "viewsCount", Value: 1}, {Key: "createdAt", Value: 1}}}},
		{{Key: "$limit", Value: topPoolSize}},
		{{Key: "$sample", Value: bson.M{"size": 1}}},
	})
}

// sampleSupporter samples a supporter creator, then returns their
// oldest least-viewed eligible screenshot.
func (e *Engine) sampleSupporter(ctx context.Context, excluded []primitive.ObjectID) (*models.Screenshot, error) {
	supporter, err := e.creators.SampleSupporter(ctx)
	if err != nil {
		return nil, err
	}
	if supporter == nil {
		return nil, nil
	}

	match := eligible(excluded)
	match["creatorId"] = supporter.ID
	return e.sampleOne(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "viewsCount", Value: 1}, {Key: "createdAt", Value: 1}}}},
		{{Key: "$limit", Value: 1}},
	})
}

func (e *Engine) recencyCutoff() time.Time {
	return e.now().UTC().AddDate(0, 0, -e.cfg.RecencyThresholdDays)
}
