package stats

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Feature launch dates: per-day averages are computed against the day
// the feature shipped, not the screenshot's creation when it is older.
var (
	viewsLaunchDate     = time.Date(2024, 9, 23, 0, 0, 0, 0, time.UTC)
	favoritesLaunchDate = time.Date(2024, 10, 5, 0, 0, 0, 0, time.UTC)
)

// driftTolerance is the minimum per-day change worth a write.
const driftTolerance = 0.1

// UpdatePerDayAverages recomputes viewsPerDay, favoritesPerDay and the
// favoriting percentage for every screenshot with nonzero counters,
// writing only rows that drifted by more than the tolerance.
func (r *Reconciler) UpdatePerDayAverages(ctx context.Context, nice bool) error {
	screenshots, err := r.screenshots.FindWithNonzeroCounters(ctx)
	if err != nil {
		return fmt.Errorf("failed to list screenshots with counters: %w", err)
	}

	now := r.now().UTC()
	updated := 0
	for _, s := range screenshots {
		viewsPerDay := round1(float64(s.ViewsCount) / daysSince(s.CreatedAt, viewsLaunchDate, now))
		favoritesPerDay := round1(float64(s.FavoritesCount) / daysSince(s.CreatedAt, favoritesLaunchDate, now))

		percentage := 0
		if s.UniqueViewsCount > 0 {
			percentage = int(math.Round(100 * float64(s.FavoritesCount) / float64(s.UniqueViewsCount)))
		}

		if math.Abs(viewsPerDay-s.ViewsPerDay) <= driftTolerance &&
			math.Abs(favoritesPerDay-s.FavoritesPerDay) <= driftTolerance &&
			percentage == s.FavoritingPercentage {
			continue
		}

		if nice && updated > 0 {
			time.Sleep(niceSleep)
		}
		if err := r.screenshots.SetPerDayAverages(ctx, s.ID, viewsPerDay, favoritesPerDay, percentage); err != nil {
			return fmt.Errorf("failed to write per-day averages for %s: %w", s.ID.Hex(), err)
		}
		updated++
	}

	if updated > 0 {
		r.log.WithField("updated", updated).Info("per-day averages updated")
	}
	return nil
}

// daysSince returns the fractional days elapsed since the later of
// createdAt and the feature launch, never less than one day.
func daysSince(createdAt, launch, now time.Time) float64 {
	anchor := createdAt
	if launch.After(anchor) {
		anchor = launch
	}
	days := now.Sub(anchor).Hours() / 24
	if days < 1 {
		return 1
	}
	return days
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
