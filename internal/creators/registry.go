// Package creators authenticates and maintains creator accounts.
// Authentication comes in two schemes: simple (creator id only) and
// mod (id, provider, optional name, hwid).
package creators

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/models"
	"github.com/halloffame/hof-server/internal/translate"
)

// Store is the slice of the persistence gateway the registry needs.
type Store interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Creator, error)
	FindByCreatorID(ctx context.Context, creatorID string) (*models.Creator, error)
	FindMatching(ctx context.Context, creatorID string, name, slug *string) ([]models.Creator, error)
	Insert(ctx context.Context, c *models.Creator) error
	Update(ctx context.Context, c *models.Creator) error
	SetNeedsTranslation(ctx context.Context, id primitive.ObjectID, needs bool, translated *models.TranslatedName) error
	IncrementSocialClick(ctx context.Context, id primitive.ObjectID, platform string) error
}

// Scheduler queues fire-and-forget background work.
type Scheduler interface {
	Submit(name string, fn func(ctx context.Context) error)
}

// Registry implements both authentication flows.
type Registry struct {
	store      Store
	translator translate.Translator
	scheduler  Scheduler
	log        *logrus.Entry
}

func NewRegistry(store Store, translator translate.Translator, scheduler Scheduler, log *logrus.Logger) *Registry {
	return &Registry{
		store:      store,
		translator: translator,
		scheduler:  scheduler,
		log:        log.WithField("component", "creators"),
	}
}

// Get loads a creator by internal id.
func (r *Registry) Get(ctx context.Context, id primitive.ObjectID) (*models.Creator, error) {
	return r.store.FindByID(ctx, id)
}

// Authenticate dispatches on the parsed authorization scheme.
func (r *Registry) Authenticate(ctx context.Context, auth *Authorization) (*models.Creator, error) {
	if auth.Simple {
		return r.authenticateSimple(ctx, auth)
	}
	return r.authenticateMod(ctx, auth)
}

// authenticateSimple looks up by creator id and refreshes the ip
// history.
func (r *Registry) authenticateSimple(ctx context.Context, auth *Authorization) (*models.Creator, error) {
	creator, err := r.store.FindByCreatorID(ctx, auth.CreatorID)
	if err != nil {
		if hoferr.IsKind(err, hoferr.KindNotFound) {
			return nil, hoferr.New(hoferr.KindCreatorNotFound, "no creator with this id")
		}
		return nil, err
	}

	if creator.LatestIP() != auth.IP {
		creator.IPs = prependIdentifier(creator.IPs, auth.IP)
		if err := r.store.Update(ctx, creator); err != nil {
			return nil, err
		}
	}
	return creator, nil
}

// authenticateMod runs the full mod-scheme case analysis. A race
// between two first requests of the same creator can make the create
// path hit the unique index; that conflict is recovered by retrying
// the lookup-and-update path exactly once.
func (r *Registry) authenticateMod(ctx context.Context, auth *Authorization) (*models.Creator, error) {
	creator, err := r.authenticateModOnce(ctx, auth)
	if err != nil && hoferr.IsKind(err, hoferr.KindConflict) {
		r.log.WithField("creatorId", auth.CreatorID).
			Debug("creation raced, retrying lookup")
		return r.authenticateModOnce(ctx, auth)
	}
	return creator, err
}

func (r *Registry) authenticateModOnce(ctx context.Context, auth *Authorization) (*models.Creator, error) {
	slug := Slug(auth.CreatorName)
	matches, err := r.store.FindMatching(ctx, auth.CreatorID, auth.CreatorName, slug)
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return r.createCreator(ctx, auth, slug)
	case 1:
		return r.updateCreator(ctx, &matches[0], auth, slug)
	case 2:
		// The presented name resolves to an account other than the
		// one owning the presented id: a rename into a claimed slot.
		conflicting := &matches[0]
		if conflicting.CreatorID == auth.CreatorID {
			conflicting = &matches[1]
		}
		return nil, hoferr.Newf(hoferr.KindIncorrectCreatorID,
			"the name %s is already claimed by another creator", conflicting.Name())
	default:
		return nil, fmt.Errorf(
			"creator lookup invariant violated: %d rows match id %s",
			len(matches), auth.CreatorID)
	}
}

func (r *Registry) createCreator(ctx context.Context, auth *Authorization, slug *string) (*models.Creator, error) {
	if auth.CreatorName != nil {
		if err := ValidateCreatorName(*auth.CreatorName); err != nil {
			return nil, err
		}
	}

	creator := &models.Creator{
		CreatorID:         auth.CreatorID,
		CreatorIDProvider: auth.Provider,
		CreatorName:       auth.CreatorName,
		CreatorNameSlug:   slug,
		HWIDs:             []string{auth.HWID},
		IPs:               []string{auth.IP},
	}
	if auth.CreatorName != nil {
		creator.NeedsTranslation = translate.NeedsTranslation(*auth.CreatorName)
	}

	if err := r.store.Insert(ctx, creator); err != nil {
		return nil, err
	}

	r.log.WithField("creator", creator.Name()).Info("creator created")
	r.scheduleTranslation(creator)
	return creator, nil
}

func (r *Registry) updateCreator(ctx context.Context, creator *models.Creator, auth *Authorization, slug *string) (*models.Creator, error) {
	if creator.CreatorID != auth.CreatorID && !creator.AllowCreatorIDReset {
		return nil, hoferr.Newf(hoferr.KindIncorrectCreatorID,
			"incorrect creator id for creator %s", creator.Name())
	}

	changed := false
	nameChanged := !equalName(creator.CreatorName, auth.CreatorName)
	if nameChanged {
		if auth.CreatorName != nil {
			if err := ValidateCreatorName(*auth.CreatorName); err != nil {
				return nil, err
			}
		}
		creator.CreatorName = auth.CreatorName
		creator.CreatorNameSlug = slug
		if auth.CreatorName != nil {
			creator.NeedsTranslation = translate.NeedsTranslation(*auth.CreatorName)
		} else {
			creator.NeedsTranslation = false
			creator.TranslatedName = nil
		}
		changed = true
	}

	if creator.LatestHWID() == nil || *creator.LatestHWID() != auth.HWID {
		creator.HWIDs = prependIdentifier(creator.HWIDs, auth.HWID)
		changed = true
	}
	if creator.LatestIP() != auth.IP {
		creator.IPs = prependIdentifier(creator.IPs, auth.IP)
		changed = true
	}

	if creator.CreatorID != auth.CreatorID {
		// Reset was explicitly allowed; consume it.
		creator.CreatorID = auth.CreatorID
		creator.AllowCreatorIDReset = false
		changed = true
	} else if creator.AllowCreatorIDReset {
		creator.AllowCreatorIDReset = false
		changed = true
	}

	if creator.CreatorIDProvider != auth.Provider {
		creator.CreatorIDProvider = auth.Provider
		changed = true
	}

	if changed {
		if err := r.store.Update(ctx, creator); err != nil {
			return nil, err
		}
	}
	if nameChanged {
		r.scheduleTranslation(creator)
	}
	return creator, nil
}

// scheduleTranslation queues a background name translation when the
// creator's name warrants one. Failures never reach the request.
func (r *Registry) scheduleTranslation(creator *models.Creator) {
	if !creator.NeedsTranslation || creator.CreatorName == nil {
		return
	}

	id := creator.ID
	name := *creator.CreatorName
	r.scheduler.Submit("creator-name-translation", func(ctx context.Context) error {
		translated, err := r.translator.TranslateName(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to translate creator name: %w", err)
		}
		return r.store.SetNeedsTranslation(ctx, id, false, translated)
	})
}

// RecordSocialClick bumps the click counter of one social link.
func (r *Registry) RecordSocialClick(ctx context.Context, id primitive.ObjectID, platform string) (*models.Social, error) {
	creator, err := r.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range creator.Socials {
		if creator.Socials[i].Platform == platform {
			if err := r.store.IncrementSocialClick(ctx, id, platform); err != nil {
				return nil, err
			}
			creator.Socials[i].Clicks++
			return &creator.Socials[i], nil
		}
	}
	return nil, hoferr.Newf(hoferr.KindNotFound, "no %s link on this creator", platform)
}

// prependIdentifier puts v first, removes duplicates and clamps the
// history to the newest three.
func prependIdentifier(list []string, v string) []string {
	out := make([]string, 0, models.MaxIdentifiers)
	out = append(out, v)
	for _, existing := range list {
		if existing != v {
			out = append(out, existing)
		}
		if len(out) == models.MaxIdentifiers {
			break
		}
	}
	return out
}

func equalName(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
