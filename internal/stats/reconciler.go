// Package stats reconciles the denormalised interaction counters
// against the authoritative views and favorites collections.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/halloffame/hof-server/internal/models"
)

// niceSleep is the pause between writes in nice mode, keeping the
// daily full pass from saturating the store.
const niceSleep = 100 * time.Millisecond

const reconcileParallelism = 8

// Aggregator runs raw aggregation pipelines; the persistence gateway
// implements it.
type Aggregator interface {
	Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline, out any) error
}

// ScreenshotStore is the slice of the persistence gateway the
// reconciler writes through.
type ScreenshotStore interface {
	SetCounters(ctx context.Context, id primitive.ObjectID, views, uniqueViews, favorites, percentage int) error
	SetPerDayAverages(ctx context.Context, id primitive.ObjectID, viewsPerDay, favoritesPerDay float64, percentage int) error
	FindWithNonzeroCounters(ctx context.Context) ([]models.Screenshot, error)
}

// Reconciler recomputes counters on demand and on schedule.
type Reconciler struct {
	agg         Aggregator
	screenshots ScreenshotStore
	now         func() time.Time
	log         *logrus.Entry

	mu    sync.Mutex
	dirty map[primitive.ObjectID]struct{}
}

func NewReconciler(agg Aggregator, screenshots ScreenshotStore, log *logrus.Logger) *Reconciler {
	return &Reconciler{
		agg:         agg,
		screenshots: screenshots,
		now:         time.Now,
		log:         log.WithField("component", "stats"),
		dirty:       make(map[primitive.ObjectID]struct{}),
	}
}

// WithClock overrides the reconciler clock. Test hook.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// RequestStatsUpdate marks one screenshot dirty; the five-minute cron
// drains the set.
func (r *Reconciler) RequestStatsUpdate(id primitive.ObjectID) {
	r.mu.Lock()
	r.dirty[id] = struct{}{}
	r.mu.Unlock()
}

// drainDirty takes and clears the dirty set.
func (r *Reconciler) drainDirty() []primitive.ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]primitive.ObjectID, 0, len(r.dirty))
	for id := range r.dirty {
		ids = append(ids, id)
	}
	r.dirty = make(map[primitive.ObjectID]struct{})
	return ids
}

// ReconcileDirty reconciles just the screenshots marked dirty since
// the last drain.
func (r *Reconciler) ReconcileDirty(ctx context.Context) error {
	ids := r.drainDirty()
	if len(ids) == 0 {
		return nil
	}
	return r.Reconcile(ctx, ids, false)
}

// ReconcileAll reconciles every screenshot, in nice mode.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	return r.Reconcile(ctx, nil, true)
}

// driftRow is one screenshot whose stored counters disagree with the
// recomputed values.
type driftRow struct {
	ID          primitive.ObjectID `bson:"_id"`
	Views       int                `bson:"computedViews"`
	UniqueViews int                `bson:"computedUniqueViews"`
	Favorites   int                `bson:"computedFavorites"`
	Percentage  int                `bson:"computedPercentage"`
}

// Reconcile runs the server-side aggregation joining screenshots
// against their views and favorites and rewrites only the rows where
// any of the four counters drifted. Nil ids means every screenshot.
func (r *Reconciler) Reconcile(ctx context.Context, ids []primitive.ObjectID, nice bool) error {
	pipeline := mongo.Pipeline{}
	if ids != nil {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{
			"_id": bson.M{"$in": ids},
		}}})
	}

	pipeline = append(pipeline,
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         "views",
			"localField":   "_id",
			"foreignField": "screenshotId",
			"as":           "viewRows",
		}}},
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         "favorites",
			"localField":   "_id",
			"foreignField": "screenshotId",
			"as":           "favoriteRows",
		}}},
		bson.D{{Key: "$addFields", Value: bson.M{
			"computedViews":       bson.M{"$size": "$viewRows"},
			"computedUniqueViews": bson.M{"$size": bson.M{"$setUnion": bson.A{"$viewRows.creatorId", bson.A{}}}},
			"computedFavorites":   bson.M{"$size": "$favoriteRows"},
		}}},
		bson.D{{Key: "$addFields", Value: bson.M{
			"computedPercentage": bson.M{"$cond": bson.A{
				bson.M{"$gt": bson.A{"$computedUniqueViews", 0}},
				bson.M{"$round": bson.A{
					bson.M{"$multiply": bson.A{100,
						bson.M{"$divide": bson.A{"$computedFavorites", "$computedUniqueViews"}}}},
					0,
				}},
				0,
			}},
		}}},
		bson.D{{Key: "$match", Value: bson.M{"$expr": bson.M{"$or": bson.A{
			bson.M{"$ne": bson.A{"$viewsCount", "$computedViews"}},
			bson.M{"$ne": bson.A{"$uniqueViewsCount", "$computedUniqueViews"}},
			bson.M{"$ne": bson.A{"$favoritesCount", "$computedFavorites"}},
			bson.M{"$ne": bson.A{"$favoritingPercentage", "$computedPercentage"}},
		}}}}},
		bson.D{{Key: "$project", Value: bson.M{
			"computedViews":       1,
			"computedUniqueViews": 1,
			"computedFavorites":   1,
			"computedPercentage":  1,
		}}},
	)

	var rows []driftRow
	if err := r.agg.Aggregate(ctx, "screenshots", pipeline, &rows); err != nil {
		return fmt.Errorf("stats aggregation failed: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	if err := r.writeRows(ctx, rows, nice); err != nil {
		return err
	}

	r.log.WithField("updated", len(rows)).Info("counters reconciled")
	return nil
}

// writeRows persists the recomputed counters, in parallel normally,
// sequentially with a pause in nice mode.
func (r *Reconciler) writeRows(ctx context.Context, rows []driftRow, nice bool) error {
	if nice {
		for i, row := range rows {
			if i > 0 {
				time.Sleep(niceSleep)
			}
			if err := r.writeRow(ctx, row); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileParallelism)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			return r.writeRow(gctx, row)
		})
	}
	return g.Wait()
}

func (r *Reconciler) writeRow(ctx context.Context, row driftRow) error {
	err := r.screenshots.SetCounters(ctx, row.ID,
		row.Views, row.UniqueViews, row.Favorites, row.Percentage)
	if err != nil {
		return fmt.Errorf("failed to write counters for %s: %w", row.ID.Hex(), err)
	}
	return nil
}
