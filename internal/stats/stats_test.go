package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/halloffame/hof-server/internal/models"
	"github.com/halloffame/hof-server/internal/testutil"
)

// fakeAggregator replays canned drift rows and records the pipelines it
// was handed.
type fakeAggregator struct {
	rows      []driftRow
	pipelines []mongo.Pipeline
}

func (a *fakeAggregator) Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline, out any) error {
	a.pipelines = append(a.pipelines, pipeline)
	*(out.(*[]driftRow)) = a.rows
	return nil
}

type counterWrite struct {
	views, uniqueViews, favorites, percentage int
}

type perDayWrite struct {
	viewsPerDay, favoritesPerDay float64
	percentage                   int
}

type fakeScreenshotStore struct {
	withCounters []models.Screenshot
	counters     map[primitive.ObjectID]counterWrite
	perDay       map[primitive.ObjectID]perDayWrite
}

func newFakeScreenshotStore() *fakeScreenshotStore {
	return &fakeScreenshotStore{
		counters: map[primitive.ObjectID]counterWrite{},
		perDay:   map[primitive.ObjectID]perDayWrite{},
	}
}

func (s *fakeScreenshotStore) SetCounters(ctx context.Context, id primitive.ObjectID, views, uniqueViews, favorites, percentage int) error {
	s.counters[id] = counterWrite{views, uniqueViews, favorites, percentage}
	return nil
}

func (s *fakeScreenshotStore) SetPerDayAverages(ctx context.Context, id primitive.ObjectID, viewsPerDay, favoritesPerDay float64, percentage int) error {
	s.perDay[id] = perDayWrite{viewsPerDay, favoritesPerDay, percentage}
	return nil
}

func (s *fakeScreenshotStore) FindWithNonzeroCounters(ctx context.Context) ([]models.Screenshot, error) {
	return s.withCounters, nil
}

func newTestReconciler(agg *fakeAggregator, store *fakeScreenshotStore) *Reconciler {
	return NewReconciler(agg, store, testutil.Logger()).
		WithClock(testutil.Clock(testutil.FixedTime))
}

func TestReconcileWritesDriftedRows(t *testing.T) {
	a, b := testutil.OID(1), testutil.OID(2)
	agg := &fakeAggregator{rows: []driftRow{
		{ID: a, Views: 10, UniqueViews: 8, Favorites: 4, Percentage: 50},
		{ID: b, Views: 3, UniqueViews: 3, Favorites: 0, Percentage: 0},
	}}
	store := newFakeScreenshotStore()
	r := newTestReconciler(agg, store)

	require.NoError(t, r.Reconcile(context.Background(), []primitive.ObjectID{a, b}, false))

	assert.Equal(t, counterWrite{10, 8, 4, 50}, store.counters[a])
	assert.Equal(t, counterWrite{3, 3, 0, 0}, store.counters[b])
}

func TestReconcileScopesPipelineToRequestedIDs(t *testing.T) {
	agg := &fakeAggregator{}
	r := newTestReconciler(agg, newFakeScreenshotStore())
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, []primitive.ObjectID{testutil.OID(1)}, false))
	require.NoError(t, r.Reconcile(ctx, nil, true))
	require.Len(t, agg.pipelines, 2)

	// The scoped run leads with a $match, the full run does not.
	assert.Equal(t, "$match", agg.pipelines[0][0][0].Key)
	assert.Equal(t, "$lookup", agg.pipelines[1][0][0].Key)
}

func TestReconcileDirtyDrainsTheSet(t *testing.T) {
	agg := &fakeAggregator{}
	r := newTestReconciler(agg, newFakeScreenshotStore())
	ctx := context.Background()

	r.RequestStatsUpdate(testutil.OID(1))
	r.RequestStatsUpdate(testutil.OID(1))
	r.RequestStatsUpdate(testutil.OID(2))

	require.NoError(t, r.ReconcileDirty(ctx))
	require.Len(t, agg.pipelines, 1)

	// A second drain finds nothing and never touches the store.
	require.NoError(t, r.ReconcileDirty(ctx))
	assert.Len(t, agg.pipelines, 1)
}

func TestUpdatePerDayAverages(t *testing.T) {
	// Created well after both feature launches, 10 days before now.
	created := testutil.FixedTime.Add(-10 * 24 * time.Hour)
	store := newFakeScreenshotStore()
	store.withCounters = []models.Screenshot{{
		ID:               testutil.OID(1),
		CreatedAt:        created,
		ViewsCount:       30,
		UniqueViewsCount: 20,
		FavoritesCount:   5,
	}}
	r := newTestReconciler(&fakeAggregator{}, store)

	require.NoError(t, r.UpdatePerDayAverages(context.Background(), false))

	got := store.perDay[testutil.OID(1)]
	assert.InDelta(t, 3.0, got.viewsPerDay, 1e-9)
	assert.InDelta(t, 0.5, got.favoritesPerDay, 1e-9)
	assert.Equal(t, 25, got.percentage)
}

func TestUpdatePerDayAveragesClampsToLaunchDates(t *testing.T) {
	// Older than either launch date: the launch date is the anchor.
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := viewsLaunchDate.Add(2 * 24 * time.Hour)

	store := newFakeScreenshotStore()
	store.withCounters = []models.Screenshot{{
		ID:               testutil.OID(1),
		CreatedAt:        created,
		ViewsCount:       10,
		UniqueViewsCount: 10,
		FavoritesCount:   2,
	}}
	r := NewReconciler(&fakeAggregator{}, store, testutil.Logger()).
		WithClock(testutil.Clock(now))

	require.NoError(t, r.UpdatePerDayAverages(context.Background(), false))

	got := store.perDay[testutil.OID(1)]
	// Two days since the views launch; favorites launched later, so its
	// elapsed time is clamped to the one-day floor.
	assert.InDelta(t, 5.0, got.viewsPerDay, 1e-9)
	assert.InDelta(t, 2.0, got.favoritesPerDay, 1e-9)
}

func TestUpdatePerDayAveragesSkipsWithinTolerance(t *testing.T) {
	created := testutil.FixedTime.Add(-10 * 24 * time.Hour)
	store := newFakeScreenshotStore()
	store.withCounters = []models.Screenshot{{
		ID:                   testutil.OID(1),
		CreatedAt:            created,
		ViewsCount:           30,
		UniqueViewsCount:     20,
		FavoritesCount:       5,
		ViewsPerDay:          2.95,
		FavoritesPerDay:      0.5,
		FavoritingPercentage: 25,
	}}
	r := newTestReconciler(&fakeAggregator{}, store)

	require.NoError(t, r.UpdatePerDayAverages(context.Background(), false))
	assert.Empty(t, store.perDay)
}

func TestDaysSinceFloorsAtOneDay(t *testing.T) {
	now := testutil.FixedTime
	assert.Equal(t, 1.0, daysSince(now.Add(-time.Hour), viewsLaunchDate, now))
}

func TestRound1(t *testing.T) {
	assert.Equal(t, 0.3, round1(0.25))
	assert.Equal(t, 1.0, round1(1.04))
}
