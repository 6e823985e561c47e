package favorites

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/models"
	"github.com/halloffame/hof-server/internal/testutil"
)

// fakeFavoriteStore applies the identity OR in memory.
type fakeFavoriteStore struct {
	rows []models.Favorite
}

func matchesIdentity(row *models.Favorite, creator *models.Creator) bool {
	if row.CreatorID == creator.ID {
		return true
	}
	if row.HWID != nil {
		for _, hwid := range creator.HWIDs {
			if *row.HWID == hwid {
				return true
			}
		}
	}
	for _, ip := range creator.IPs {
		if row.IP == ip {
			return true
		}
	}
	return false
}

func (s *fakeFavoriteStore) FindByIdentity(ctx context.Context, screenshotID primitive.ObjectID, creator *models.Creator) ([]models.Favorite, error) {
	var out []models.Favorite
	for _, row := range s.rows {
		if row.ScreenshotID == screenshotID && matchesIdentity(&row, creator) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeFavoriteStore) FindByIdentityAcross(ctx context.Context, screenshotIDs []primitive.ObjectID, creator *models.Creator) ([]models.Favorite, error) {
	var out []models.Favorite
	for _, id := range screenshotIDs {
		rows, _ := s.FindByIdentity(ctx, id, creator)
		out = append(out, rows...)
	}
	return out, nil
}

func (s *fakeFavoriteStore) FindScreenshotIDsByIdentity(ctx context.Context, creator *models.Creator) ([]primitive.ObjectID, error) {
	var out []primitive.ObjectID
	for _, row := range s.rows {
		if matchesIdentity(&row, creator) {
			out = append(out, row.ScreenshotID)
		}
	}
	return out, nil
}

func (s *fakeFavoriteStore) Insert(ctx context.Context, f *models.Favorite) error {
	f.ID = primitive.NewObjectID()
	s.rows = append(s.rows, *f)
	return nil
}

func (s *fakeFavoriteStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	for i, row := range s.rows {
		if row.ID == id {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return nil
		}
	}
	return hoferr.New(hoferr.KindNotFound, "favorite not found")
}

type fakeFavCounter struct {
	counts map[primitive.ObjectID]int
}

func newFakeFavCounter() *fakeFavCounter {
	return &fakeFavCounter{counts: map[primitive.ObjectID]int{}}
}

func (c *fakeFavCounter) IncFavoritesCount(ctx context.Context, id primitive.ObjectID, delta int) error {
	c.counts[id] += delta
	return nil
}

func TestAddRemoveFavoriteRoundTrip(t *testing.T) {
	store := &fakeFavoriteStore{}
	counter := newFakeFavCounter()
	tracker := NewTracker(store, counter, testutil.Logger())
	ctx := context.Background()

	creator := testutil.Creator("Ann")
	screenshot := testutil.OID(1)

	require.NoError(t, tracker.AddFavorite(ctx, screenshot, creator))
	assert.Equal(t, 1, counter.counts[screenshot])

	fav, err := tracker.IsFavorite(ctx, screenshot, creator)
	require.NoError(t, err)
	assert.True(t, fav)

	require.NoError(t, tracker.RemoveFavorite(ctx, screenshot, creator))
	assert.Equal(t, 0, counter.counts[screenshot])
	assert.Empty(t, store.rows)
}

func TestAddFavoriteTwiceRaises(t *testing.T) {
	tracker := NewTracker(&fakeFavoriteStore{}, newFakeFavCounter(), testutil.Logger())
	ctx := context.Background()

	creator := testutil.Creator("Ann")
	screenshot := testutil.OID(1)

	require.NoError(t, tracker.AddFavorite(ctx, screenshot, creator))
	err := tracker.AddFavorite(ctx, screenshot, creator)
	assert.True(t, hoferr.IsKind(err, hoferr.KindAlreadyFavorited))
}

func TestAddFavoriteBlocksAcrossIdentities(t *testing.T) {
	store := &fakeFavoriteStore{}
	tracker := NewTracker(store, newFakeFavCounter(), testutil.Logger())
	ctx := context.Background()

	first := testutil.Creator("Ann")
	screenshot := testutil.OID(1)
	require.NoError(t, tracker.AddFavorite(ctx, screenshot, first))

	// A second account sharing the device cannot favorite again.
	second := testutil.Creator("Ann2")
	second.IPs = []string{"198.51.100.50"}
	second.HWIDs = first.HWIDs

	err := tracker.AddFavorite(ctx, screenshot, second)
	assert.True(t, hoferr.IsKind(err, hoferr.KindAlreadyFavorited))
}

func TestRemoveFavoriteWithoutRowRaises(t *testing.T) {
	tracker := NewTracker(&fakeFavoriteStore{}, newFakeFavCounter(), testutil.Logger())

	err := tracker.RemoveFavorite(context.Background(), testutil.OID(1), testutil.Creator("Ann"))
	assert.True(t, hoferr.IsKind(err, hoferr.KindNotFavorited))
}

func TestAreFavoriteKeepsInputOrder(t *testing.T) {
	store := &fakeFavoriteStore{}
	tracker := NewTracker(store, newFakeFavCounter(), testutil.Logger())
	ctx := context.Background()

	creator := testutil.Creator("Ann")
	a, b, c := testutil.OID(1), testutil.OID(2), testutil.OID(3)
	require.NoError(t, tracker.AddFavorite(ctx, a, creator))
	require.NoError(t, tracker.AddFavorite(ctx, c, creator))

	out, err := tracker.AreFavorite(ctx, []primitive.ObjectID{a, b, c}, creator)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, out)
}
