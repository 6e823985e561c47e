// Package favorites enforces the "one identity, one favorite" rule.
// Identity matches on creator id, any known hwid or any known ip, so a
// multi-account user cannot favorite a screenshot twice.
package favorites

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/models"
)

// FavoriteStore is the slice of the persistence gateway the tracker
// needs.
type FavoriteStore interface {
	FindByIdentity(ctx context.Context, screenshotID primitive.ObjectID, creator *models.Creator) ([]models.Favorite, error)
	FindByIdentityAcross(ctx context.Context, screenshotIDs []primitive.ObjectID, creator *models.Creator) ([]models.Favorite, error)
	FindScreenshotIDsByIdentity(ctx context.Context, creator *models.Creator) ([]primitive.ObjectID, error)
	Insert(ctx context.Context, f *models.Favorite) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// ScreenshotCounter adjusts the eager favorite counter.
type ScreenshotCounter interface {
	IncFavoritesCount(ctx context.Context, id primitive.ObjectID, delta int) error
}

// Tracker adds, removes and queries favorites.
type Tracker struct {
	store       FavoriteStore
	screenshots ScreenshotCounter
	now         func() time.Time
	log         *logrus.Entry
}

func NewTracker(store FavoriteStore, screenshots ScreenshotCounter, log *logrus.Logger) *Tracker {
	return &Tracker{
		store:       store,
		screenshots: screenshots,
		now:         time.Now,
		log:         log.WithField("component", "favorites"),
	}
}

// WithClock overrides the tracker clock. Test hook.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// IsFavorite reports whether any identity of the creator favorited the
// screenshot.
func (t *Tracker) IsFavorite(ctx context.Context, screenshotID primitive.ObjectID, creator *models.Creator) (bool, error) {
	rows, err := t.store.FindByIdentity(ctx, screenshotID, creator)
	if err != nil {
		return false, fmt.Errorf("favorite lookup failed: %w", err)
	}
	return len(rows) > 0, nil
}

// AreFavorite answers the favorite question for several screenshots at
// once, in input order.
func (t *Tracker) AreFavorite(ctx context.Context, screenshotIDs []primitive.ObjectID, creator *models.Creator) ([]bool, error) {
	rows, err := t.store.FindByIdentityAcross(ctx, screenshotIDs, creator)
	if err != nil {
		return nil, fmt.Errorf("favorite lookup failed: %w", err)
	}

	favorited := make(map[primitive.ObjectID]bool, len(rows))
	for _, row := range rows {
		favorited[row.ScreenshotID] = true
	}

	out := make([]bool, len(screenshotIDs))
	for i, id := range screenshotIDs {
		out[i] = favorited[id]
	}
	return out, nil
}

// FavoritedScreenshotIDs lists the screenshots any identity of the
// creator favorited.
func (t *Tracker) FavoritedScreenshotIDs(ctx context.Context, creator *models.Creator) ([]primitive.ObjectID, error) {
	ids, err := t.store.FindScreenshotIDsByIdentity(ctx, creator)
	if err != nil {
		return nil, fmt.Errorf("favorite lookup failed: %w", err)
	}
	return ids, nil
}

// AddFavorite creates a favorite row for the creator's current
// identity and bumps the counter. Raises already-favorited when any
// identity already holds one.
func (t *Tracker) AddFavorite(ctx context.Context, screenshotID primitive.ObjectID, creator *models.Creator) error {
	existing, err := t.store.FindByIdentity(ctx, screenshotID, creator)
	if err != nil {
		return fmt.Errorf("favorite lookup failed: %w", err)
	}
	if len(existing) > 0 {
		return hoferr.New(hoferr.KindAlreadyFavorited, "this screenshot is already in your favorites")
	}

	favorite := &models.Favorite{
		ScreenshotID: screenshotID,
		CreatorID:    creator.ID,
		IP:           creator.LatestIP(),
		HWID:         creator.LatestHWID(),
		FavoritedAt:  t.now().UTC(),
	}
	if err := t.store.Insert(ctx, favorite); err != nil {
		return fmt.Errorf("failed to create favorite: %w", err)
	}
	return t.screenshots.IncFavoritesCount(ctx, screenshotID, 1)
}

// RemoveFavorite is the mirror image of AddFavorite, raising
// not-favorited when no identity holds a row.
func (t *Tracker) RemoveFavorite(ctx context.Context, screenshotID primitive.ObjectID, creator *models.Creator) error {
	existing, err := t.store.FindByIdentity(ctx, screenshotID, creator)
	if err != nil {
		return fmt.Errorf("favorite lookup failed: %w", err)
	}
	if len(existing) == 0 {
		return hoferr.New(hoferr.KindNotFavorited, "this screenshot is not in your favorites")
	}

	for _, row := range existing {
		if err := t.store.Delete(ctx, row.ID); err != nil {
			return fmt.Errorf("failed to delete favorite: %w", err)
		}
	}
	return t.screenshots.IncFavoritesCount(ctx, screenshotID, -len(existing))
}
