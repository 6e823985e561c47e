package screenshots

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/halloffame/hof-server/internal/models"
)

// Merge folds duplicate screenshots into a target: interaction rows
// are re-parented with per-identity deduplication, the sources are
// deleted through the regular delete path, and the target's counters
// are reconciled. The whole move runs in one transaction.
func (e *Engine) Merge(ctx context.Context, targetID primitive.ObjectID, sourceIDs []primitive.ObjectID) error {
	err := e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		target, err := e.store.FindByID(ctx, targetID)
		if err != nil {
			return fmt.Errorf("merge target: %w", err)
		}

		targetFavorites, err := e.favorites.FindByScreenshot(ctx, target.ID)
		if err != nil {
			return err
		}
		targetViews, err := e.views.FindByScreenshot(ctx, target.ID)
		if err != nil {
			return err
		}

		for _, sourceID := range sourceIDs {
			if sourceID == targetID {
				continue
			}
			source, err := e.store.FindByID(ctx, sourceID)
			if err != nil {
				return fmt.Errorf("merge source %s: %w", sourceID.Hex(), err)
			}

			targetFavorites, err = e.mergeFavorites(ctx, target, source, targetFavorites)
			if err != nil {
				return err
			}
			targetViews, err = e.mergeViews(ctx, target, source, targetViews)
			if err != nil {
				return err
			}

			// Rows still attached to the source are the duplicates;
			// the delete path drops them with the screenshot.
			if err := e.deleteTx(ctx, source); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.stats.Reconcile(ctx, []primitive.ObjectID{targetID}, false); err != nil {
		return fmt.Errorf("failed to reconcile merge target: %w", err)
	}
	e.log.WithField("target", targetID.Hex()).Info("screenshots merged")
	return nil
}

// mergeFavorites re-parents the source's favorites onto the target.
// When the target already holds a favorite of the same identity, the
// earlier favoritedAt wins and the source row stays behind.
func (e *Engine) mergeFavorites(ctx context.Context, target, source *models.Screenshot, existing []models.Favorite) ([]models.Favorite, error) {
	sourceFavorites, err := e.favorites.FindByScreenshot(ctx, source.ID)
	if err != nil {
		return nil, err
	}

	for _, fav := range sourceFavorites {
		dup := matchFavoriteIdentity(existing, &fav)
		if dup == nil {
			if err := e.favorites.Reparent(ctx, fav.ID, target.ID); err != nil {
				return nil, err
			}
			fav.ScreenshotID = target.ID
			existing = append(existing, fav)
			continue
		}
		if fav.FavoritedAt.Before(dup.FavoritedAt) {
			if err := e.favorites.SetFavoritedAt(ctx, dup.ID, fav.FavoritedAt); err != nil {
				return nil, err
			}
			dup.FavoritedAt = fav.FavoritedAt
		}
	}
	return existing, nil
}

// mergeViews re-parents the source's views onto the target, one row
// per creator, keeping the earliest viewedAt.
func (e *Engine) mergeViews(ctx context.Context, target, source *models.Screenshot, existing []models.View) ([]models.View, error) {
	sourceViews, err := e.views.FindByScreenshot(ctx, source.ID)
	if err != nil {
		return nil, err
	}

	for _, view := range sourceViews {
		var dup *models.View
		for i := range existing {
			if existing[i].CreatorID == view.CreatorID {
				dup = &existing[i]
				break
			}
		}
		if dup == nil {
			if err := e.views.Reparent(ctx, view.ID, target.ID); err != nil {
				return nil, err
			}
			view.ScreenshotID = target.ID
			existing = append(existing, view)
			continue
		}
		if view.ViewedAt.Before(dup.ViewedAt) {
			if err := e.views.SetViewedAt(ctx, dup.ID, view.ViewedAt); err != nil {
				return nil, err
			}
			dup.ViewedAt = view.ViewedAt
		}
	}
	return existing, nil
}

// matchFavoriteIdentity finds a favorite of the same identity: the
// same creator, the same hwid or the same ip.
func matchFavoriteIdentity(favorites []models.Favorite, fav *models.Favorite) *models.Favorite {
	for i := range favorites {
		other := &favorites[i]
		if other.CreatorID == fav.CreatorID {
			return other
		}
		if fav.HWID != nil && other.HWID != nil && *fav.HWID == *other.HWID {
			return other
		}
		if fav.IP != "" && fav.IP == other.IP {
			return other
		}
	}
	return nil
}
