package screenshots

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/halloffame/hof-server/internal/models"
	"github.com/halloffame/hof-server/internal/testutil"
)

func TestMergeReparentsAndDedupesInteractions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	owner := testutil.Creator("Ann")
	target := testutil.Screenshot(owner, "Oslo")
	source := testutil.Screenshot(owner, "Oslo dup")
	f.store.seed(target)
	f.store.seed(source)

	fanA, fanB := primitive.NewObjectID(), primitive.NewObjectID()
	early := testutil.FixedTime.Add(-48 * time.Hour)
	late := testutil.FixedTime.Add(-1 * time.Hour)

	// fanA favorited both copies; the earlier time must survive on the
	// target row. fanB only favorited the source.
	f.favorites.rows = []models.Favorite{
		{ID: testutil.OID(1), ScreenshotID: target.ID, CreatorID: fanA, FavoritedAt: late},
		{ID: testutil.OID(2), ScreenshotID: source.ID, CreatorID: fanA, FavoritedAt: early},
		{ID: testutil.OID(3), ScreenshotID: source.ID, CreatorID: fanB, FavoritedAt: late},
	}
	f.views.rows = []models.View{
		{ID: testutil.OID(4), ScreenshotID: target.ID, CreatorID: fanA, ViewedAt: late},
		{ID: testutil.OID(5), ScreenshotID: source.ID, CreatorID: fanA, ViewedAt: early},
		{ID: testutil.OID(6), ScreenshotID: source.ID, CreatorID: fanB, ViewedAt: late},
	}

	require.NoError(t, f.engine.Merge(ctx, target.ID, []primitive.ObjectID{source.ID}))

	// Only the target remains.
	assert.Len(t, f.store.rows, 1)
	_, ok := f.store.rows[target.ID]
	assert.True(t, ok)
	assert.Contains(t, f.sim.deleted, source.ID)

	require.Len(t, f.favorites.rows, 2)
	for _, row := range f.favorites.rows {
		assert.Equal(t, target.ID, row.ScreenshotID)
		if row.CreatorID == fanA {
			assert.Equal(t, early, row.FavoritedAt)
		}
	}

	require.Len(t, f.views.rows, 2)
	for _, row := range f.views.rows {
		assert.Equal(t, target.ID, row.ScreenshotID)
		if row.CreatorID == fanA {
			assert.Equal(t, early, row.ViewedAt)
		}
	}

	require.Len(t, f.stats.reconciled, 1)
	assert.Equal(t, []primitive.ObjectID{target.ID}, f.stats.reconciled[0])
}

func TestMergeMatchesFavoriteIdentityByHWID(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	owner := testutil.Creator("Ann")
	target := testutil.Screenshot(owner, "Oslo")
	source := testutil.Screenshot(owner, "Oslo dup")
	f.store.seed(target)
	f.store.seed(source)

	hwid := "shared-device"
	early := testutil.FixedTime.Add(-48 * time.Hour)
	late := testutil.FixedTime.Add(-1 * time.Hour)

	// Different accounts, same device: one favorite survives.
	f.favorites.rows = []models.Favorite{
		{ID: testutil.OID(1), ScreenshotID: target.ID, CreatorID: primitive.NewObjectID(), HWID: &hwid, FavoritedAt: early},
		{ID: testutil.OID(2), ScreenshotID: source.ID, CreatorID: primitive.NewObjectID(), HWID: &hwid, FavoritedAt: late},
	}

	require.NoError(t, f.engine.Merge(ctx, target.ID, []primitive.ObjectID{source.ID}))

	require.Len(t, f.favorites.rows, 1)
	assert.Equal(t, target.ID, f.favorites.rows[0].ScreenshotID)
	assert.Equal(t, early, f.favorites.rows[0].FavoritedAt)
}

func TestMergeSkipsTargetInSourceList(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	target := testutil.Screenshot(testutil.Creator("Ann"), "Oslo")
	f.store.seed(target)

	require.NoError(t, f.engine.Merge(ctx, target.ID, []primitive.ObjectID{target.ID}))

	assert.Len(t, f.store.rows, 1)
	assert.Empty(t, f.sim.deleted)
	require.Len(t, f.stats.reconciled, 1)
}
