// Package views records screenshot views and memoises each creator's
// seen-set for the weighted selector.
package views

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/halloffame/hof-server/internal/models"
)

const (
	cacheCreators = 100
	cacheTTL      = 2 * time.Hour
)

// ViewStore is the slice of the persistence gateway the tracker needs.
type ViewStore interface {
	Upsert(ctx context.Context, screenshotID, creatorID primitive.ObjectID, at time.Time) (created bool, err error)
	FindScreenshotIDsByCreator(ctx context.Context, creatorID primitive.ObjectID, since *time.Time) ([]primitive.ObjectID, error)
}

// ScreenshotCounter bumps the eager view counter.
type ScreenshotCounter interface {
	IncViewsCount(ctx context.Context, id primitive.ObjectID) error
}

// seenSet is one cached seen-set. Guarded because MarkViewed updates
// cached entries in place.
type seenSet struct {
	mu  sync.Mutex
	ids map[primitive.ObjectID]struct{}
}

func (s *seenSet) add(id primitive.ObjectID) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *seenSet) slice() []primitive.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]primitive.ObjectID, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}

// Tracker records views and serves seen-sets.
type Tracker struct {
	store       ViewStore
	screenshots ScreenshotCounter
	cache       *expirable.LRU[string, *seenSet]
	now         func() time.Time
	log         *logrus.Entry
}

func NewTracker(store ViewStore, screenshots ScreenshotCounter, log *logrus.Logger) *Tracker {
	return &Tracker{
		store:       store,
		screenshots: screenshots,
		cache:       expirable.NewLRU[string, *seenSet](cacheCreators, nil, cacheTTL),
		now:         time.Now,
		log:         log.WithField("component", "views"),
	}
}

// WithClock overrides the tracker clock. Test hook.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// MarkViewed records a view. A first view creates the row; a re-view
// refreshes viewedAt. The total view counter is bumped eagerly either
// way; uniqueViewsCount belongs to reconciliation. Cached seen-sets of
// the creator are updated in place.
func (t *Tracker) MarkViewed(ctx context.Context, screenshotID, creatorID primitive.ObjectID) error {
	if _, err := t.store.Upsert(ctx, screenshotID, creatorID, t.now().UTC()); err != nil {
		return fmt.Errorf("failed to record view: %w", err)
	}
	if err := t.screenshots.IncViewsCount(ctx, screenshotID); err != nil {
		return fmt.Errorf("failed to bump view counter: %w", err)
	}

	prefix := creatorID.Hex() + ":"
	for _, key := range t.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			if set, ok := t.cache.Get(key); ok {
				set.add(screenshotID)
			}
		}
	}
	return nil
}

// GetViewedScreenshotIDs returns the ids of the screenshots the
// creator viewed within the window; maxAgeDays <= 0 means open-ended.
func (t *Tracker) GetViewedScreenshotIDs(ctx context.Context, creatorID primitive.ObjectID, maxAgeDays int) ([]primitive.ObjectID, error) {
	if maxAgeDays < 0 {
		maxAgeDays = 0
	}
	key := creatorID.Hex() + ":" + strconv.Itoa(maxAgeDays)

	if set, ok := t.cache.Get(key); ok {
		return set.slice(), nil
	}

	var since *time.Time
	if maxAgeDays > 0 {
		cutoff := t.now().UTC().AddDate(0, 0, -maxAgeDays)
		since = &cutoff
	}

	ids, err := t.store.FindScreenshotIDsByCreator(ctx, creatorID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load seen-set: %w", err)
	}

	set := &seenSet{ids: make(map[primitive.ObjectID]struct{}, len(ids))}
	for _, id := range ids {
		set.ids[id] = struct{}{}
	}
	t.cache.Add(key, set)
	return ids, nil
}

// GetViewedFor is GetViewedScreenshotIDs for an optional creator: an
// anonymous viewer has an empty seen-set.
func (t *Tracker) GetViewedFor(ctx context.Context, creator *models.Creator, maxAgeDays int) ([]primitive.ObjectID, error) {
	if creator == nil {
		return nil, nil
	}
	return t.GetViewedScreenshotIDs(ctx, creator.ID, maxAgeDays)
}
