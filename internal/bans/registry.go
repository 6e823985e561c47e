// Package bans enforces IP, HWID and creator bans in front of every
// write, with a small TTL cache so repeated checks stay off the
// database.
package bans

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/models"
)

const (
	cacheSize = 200
	cacheTTL  = 5 * time.Minute
)

// BanStore is the slice of the persistence gateway the registry needs.
type BanStore interface {
	FindMatching(ctx context.Context, ip, hwid *string, creatorID *primitive.ObjectID) ([]models.Ban, error)
	InsertMany(ctx context.Context, bans []models.Ban) error
}

// CreatorResolver resolves the creator named by a ban row.
type CreatorResolver interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Creator, error)
}

// verdict is a cached ban decision: either confirmed unbanned or the
// ban error to raise again.
type verdict struct {
	banned bool
	err    *hoferr.Error
}

// Registry answers ban checks and performs creator bans.
type Registry struct {
	store          BanStore
	creators       CreatorResolver
	cache          *expirable.LRU[string, verdict]
	supportContact string
	log            *logrus.Entry
}

func NewRegistry(store BanStore, creators CreatorResolver, supportContact string, log *logrus.Logger) *Registry {
	return &Registry{
		store:          store,
		creators:       creators,
		cache:          expirable.NewLRU[string, verdict](cacheSize, nil, cacheTTL),
		supportContact: supportContact,
		log:            log.WithField("component", "bans"),
	}
}

func ipKey(ip string) string       { return "ip:" + ip }
func hwidKey(hwid string) string   { return "hwid:" + hwid }
func creatorKey(hex string) string { return "creator:" + hex }

// EnsureNotBanned raises when the ip or the optional hwid is banned.
// Cache hits, positive and negative, short-circuit the database.
func (r *Registry) EnsureNotBanned(ctx context.Context, ip string, hwid *string) error {
	keys := []string{ipKey(ip)}
	if hwid != nil && *hwid != "" {
		keys = append(keys, hwidKey(*hwid))
	}

	allCached := true
	for _, key := range keys {
		v, ok := r.cache.Get(key)
		if !ok {
			allCached = false
			continue
		}
		if v.banned {
			return v.err
		}
	}
	if allCached {
		return nil
	}

	bans, err := r.store.FindMatching(ctx, &ip, hwid, nil)
	if err != nil {
		return fmt.Errorf("ban check failed: %w", err)
	}

	banErr, err := r.banError(ctx, bans)
	if err != nil {
		return err
	}
	for _, key := range keys {
		r.cache.Add(key, verdict{banned: banErr != nil, err: banErr})
	}
	if banErr != nil {
		return banErr
	}
	return nil
}

// EnsureCreatorNotBanned raises when the authenticated creator has a
// ban row against its id.
func (r *Registry) EnsureCreatorNotBanned(ctx context.Context, creator *models.Creator) error {
	key := creatorKey(creator.ID.Hex())
	if v, ok := r.cache.Get(key); ok {
		if v.banned {
			return v.err
		}
		return nil
	}

	bans, err := r.store.FindMatching(ctx, nil, nil, &creator.ID)
	if err != nil {
		return fmt.Errorf("creator ban check failed: %w", err)
	}

	var banErr *hoferr.Error
	if len(bans) > 0 {
		banErr = r.creatorBanError(creator, bans[0].Reason)
	}
	r.cache.Add(key, verdict{banned: banErr != nil, err: banErr})
	if banErr != nil {
		return banErr
	}
	return nil
}

// banError resolves a set of matched ban rows into the error to raise.
// A row carrying a creator id yields the creator-specific variant.
func (r *Registry) banError(ctx context.Context, bans []models.Ban) (*hoferr.Error, error) {
	if len(bans) == 0 {
		return nil, nil
	}

	for _, ban := range bans {
		if ban.CreatorID == nil {
			continue
		}
		creator, err := r.creators.FindByID(ctx, *ban.CreatorID)
		if err != nil {
			if hoferr.IsKind(err, hoferr.KindNotFound) {
				// Ban row outlived its creator; fall through to
				// the identity variant.
				continue
			}
			return nil, fmt.Errorf("failed to resolve banned creator: %w", err)
		}
		return r.creatorBanError(creator, ban.Reason), nil
	}

	return hoferr.Newf(hoferr.KindBannedIdentity,
		"your device is banned from Hall of Fame (%s), contact %s to appeal",
		bans[0].Reason, r.supportContact), nil
}

func (r *Registry) creatorBanError(creator *models.Creator, reason string) *hoferr.Error {
	return hoferr.Newf(hoferr.KindBannedCreator,
		"creator %s is banned from Hall of Fame (%s), contact %s to appeal",
		creator.Name(), reason, r.supportContact)
}

// BanCreator writes one ban row per known identifier of the creator in
// a single batch, invalidating the cache keys first.
func (r *Registry) BanCreator(ctx context.Context, creator *models.Creator, reason string) error {
	reason = NormalizeReason(reason)

	r.cache.Remove(creatorKey(creator.ID.Hex()))
	for _, ip := range creator.IPs {
		r.cache.Remove(ipKey(ip))
	}
	for _, hwid := range creator.HWIDs {
		r.cache.Remove(hwidKey(hwid))
	}

	now := time.Now().UTC()
	bans := []models.Ban{{CreatorID: &creator.ID, Reason: reason, BannedAt: now}}
	for _, ip := range creator.IPs {
		ip := ip
		bans = append(bans, models.Ban{CreatorID: &creator.ID, IP: &ip, Reason: reason, BannedAt: now})
	}
	for _, hwid := range creator.HWIDs {
		hwid := hwid
		bans = append(bans, models.Ban{CreatorID: &creator.ID, HWID: &hwid, Reason: reason, BannedAt: now})
	}

	if err := r.store.InsertMany(ctx, bans); err != nil {
		return fmt.Errorf("failed to write ban rows: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"creator": creator.Name(),
		"reason":  reason,
		"rows":    len(bans),
	}).Warn("creator banned")
	return nil
}

// NormalizeReason trims, collapses inner whitespace, lowercases and
// strips a trailing period.
func NormalizeReason(reason string) string {
	reason = strings.Join(strings.Fields(reason), " ")
	reason = strings.ToLower(reason)
	return strings.TrimSuffix(reason, ".")
}
