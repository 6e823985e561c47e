// Package screenshots is the screenshot lifecycle engine: ingestion,
// deletion, reporting, weighted random selection and admin merges.
package screenshots

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/halloffame/hof-server/internal/blob"
	"github.com/halloffame/hof-server/internal/config"
	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/models"
	"github.com/halloffame/hof-server/internal/similarity"
	"github.com/halloffame/hof-server/internal/translate"
)

// City constraints.
const (
	MaxCityMilestone  = 20
	MaxCityPopulation = 5_000_000
)

// cityNameRe restricts city names to 1-35 code points of Unicode
// letters, digits and selected punctuation.
var cityNameRe = regexp.MustCompile(`^[\p{L}\p{N} .,:;'’!?()&\-]{1,35}$`)

// Store is the slice of the persistence gateway the engine needs.
type Store interface {
	Insert(ctx context.Context, s *models.Screenshot) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Screenshot, error)
	FindByCreator(ctx context.Context, creatorID primitive.ObjectID) ([]models.Screenshot, error)
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Screenshot, error)
	FindCreatedSince(ctx context.Context, since time.Time, identityOr []bson.M) ([]models.Screenshot, error)
	SetBlobNames(ctx context.Context, id primitive.ObjectID, thumbnail, fhd, fourK string) error
	SetReported(ctx context.Context, id, reporterID primitive.ObjectID) error
	SetApproved(ctx context.Context, id primitive.ObjectID) error
	SetTranslatedCityName(ctx context.Context, id primitive.ObjectID, translated *models.TranslatedName) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// FavoriteMergeStore covers the favorite operations merge and delete
// need.
type FavoriteMergeStore interface {
	FindByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) ([]models.Favorite, error)
	Reparent(ctx context.Context, id, targetScreenshotID primitive.ObjectID) error
	SetFavoritedAt(ctx context.Context, id primitive.ObjectID, at time.Time) error
	DeleteByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) error
}

// ViewMergeStore covers the view operations merge and delete need.
type ViewMergeStore interface {
	FindByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) ([]models.View, error)
	Reparent(ctx context.Context, id, targetScreenshotID primitive.ObjectID) error
	SetViewedAt(ctx context.Context, id primitive.ObjectID, at time.Time) error
	DeleteByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) error
}

// SupporterSource samples supporter creators for the supporter
// algorithm.
type SupporterSource interface {
	SampleSupporter(ctx context.Context) (*models.Creator, error)
}

// SeenSetSource provides the excluded-id set of the weighted selector.
type SeenSetSource interface {
	GetViewedFor(ctx context.Context, creator *models.Creator, maxAgeDays int) ([]primitive.ObjectID, error)
}

// TxRunner runs a function inside a store transaction.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Aggregator runs raw aggregation pipelines for the selection
// algorithms.
type Aggregator interface {
	Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline, out any) error
}

// Processor produces the three JPEG variants of an upload.
type Processor interface {
	Process(raw []byte, creatorName, cityName string) (blob.ImageSet, error)
}

// SimilarityEngine is the slice of the similarity engine the lifecycle
// needs.
type SimilarityEngine interface {
	BatchUpdateEmbeddings(ctx context.Context, batchName string, sources []similarity.Source) error
	DeleteEmbedding(ctx context.Context, screenshotID primitive.ObjectID) error
}

// StatsRequester receives reconciliation triggers.
type StatsRequester interface {
	RequestStatsUpdate(id primitive.ObjectID)
	Reconcile(ctx context.Context, ids []primitive.ObjectID, nice bool) error
}

// Scheduler queues fire-and-forget background work.
type Scheduler interface {
	Submit(name string, fn func(ctx context.Context) error)
}

// Engine composes the collaborators around the screenshot lifecycle.
type Engine struct {
	cfg        config.Screenshots
	store      Store
	favorites  FavoriteMergeStore
	views      ViewMergeStore
	creators   SupporterSource
	seen       SeenSetSource
	blobs      blob.Store
	processor  Processor
	sim        SimilarityEngine
	stats      StatsRequester
	tx         TxRunner
	agg        Aggregator
	translator translate.Translator
	scheduler  Scheduler
	rand       *rand.Rand
	now        func() time.Time
	log        *logrus.Entry
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store      Store
	Favorites  FavoriteMergeStore
	Views      ViewMergeStore
	Creators   SupporterSource
	Seen       SeenSetSource
	Blobs      blob.Store
	Processor  Processor
	Similarity SimilarityEngine
	Stats      StatsRequester
	Tx         TxRunner
	Aggregator Aggregator
	Translator translate.Translator
	Scheduler  Scheduler
}

func NewEngine(cfg config.Screenshots, deps Deps, log *logrus.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      deps.Store,
		favorites:  deps.Favorites,
		views:      deps.Views,
		creators:   deps.Creators,
		seen:       deps.Seen,
		blobs:      deps.Blobs,
		processor:  deps.Processor,
		sim:        deps.Similarity,
		stats:      deps.Stats,
		tx:         deps.Tx,
		agg:        deps.Aggregator,
		translator: deps.Translator,
		scheduler:  deps.Scheduler,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		log:        log.WithField("component", "screenshots"),
	}
}

// WithRand overrides the selector's random source. Test hook.
func (e *Engine) WithRand(r *rand.Rand) *Engine {
	e.rand = r
	return e
}

// WithClock overrides the engine clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Get loads one screenshot.
func (e *Engine) Get(ctx context.Context, id primitive.ObjectID) (*models.Screenshot, error) {
	return e.store.FindByID(ctx, id)
}

// ListByCreator lists a creator's screenshots, newest first.
func (e *Engine) ListByCreator(ctx context.Context, creatorID primitive.ObjectID) ([]models.Screenshot, error) {
	return e.store.FindByCreator(ctx, creatorID)
}

// ListByIDs loads a set of screenshots, newest first.
func (e *Engine) ListByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Screenshot, error) {
	return e.store.FindByIDs(ctx, ids)
}

// IngestInput is one upload.
type IngestInput struct {
	Creator        *models.Creator
	CityName       string
	CityMilestone  int
	CityPopulation int
	ModIDs         []int
	RenderSettings map[string]float64
	Metadata       bson.M
	CreatedAt      time.Time
	File           []byte
	Healthcheck    bool
}

func (e *Engine) validate(in *IngestInput) error {
	if !cityNameRe.MatchString(in.CityName) {
		return hoferr.Newf(hoferr.KindInvalidCityName,
			"city name %q must be 1-35 characters of letters, digits or punctuation", in.CityName)
	}
	if in.CityMilestone < 0 || in.CityMilestone > MaxCityMilestone {
		return hoferr.Newf(hoferr.KindInvalidPayload,
			"city milestone %d out of range 0-%d", in.CityMilestone, MaxCityMilestone)
	}
	if in.CityPopulation < 0 || in.CityPopulation > MaxCityPopulation {
		return hoferr.Newf(hoferr.KindInvalidPayload,
			"city population %d out of range 0-%d", in.CityPopulation, MaxCityPopulation)
	}
	return nil
}

// Ingest validates, enforces the upload quota, encodes the three
// variants and persists the screenshot atomically with its blobs. A
// healthcheck ingest exercises the full pipeline and deletes itself
// inside the same transaction.
func (e *Engine) Ingest(ctx context.Context, in *IngestInput) (*models.Screenshot, error) {
	if err := e.validate(in); err != nil {
		return nil, err
	}
	if err := e.enforceQuota(ctx, in.Creator); err != nil {
		return nil, err
	}

	images, err := e.processor.Process(in.File, in.Creator.Name(), in.CityName)
	if err != nil {
		return nil, err
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = e.now().UTC()
	}

	screenshot := &models.Screenshot{
		CreatorID:      in.Creator.ID,
		CityName:       in.CityName,
		CityMilestone:  in.CityMilestone,
		CityPopulation: in.CityPopulation,
		HWID:           in.Creator.LatestHWID(),
		IP:             in.Creator.LatestIP(),
		ModIDs:         in.ModIDs,
		RenderSettings: in.RenderSettings,
		Metadata:       in.Metadata,
		IsReported:     in.Healthcheck,
		CreatedAt:      createdAt,
	}

	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := e.store.Insert(ctx, screenshot); err != nil {
			return err
		}

		names, err := e.blobs.UploadImages(ctx, in.Creator, screenshot, images)
		if err != nil {
			return fmt.Errorf("blob upload failed: %w", err)
		}

		if err := e.store.SetBlobNames(ctx, screenshot.ID, names.Thumbnail, names.FHD, names.FourK); err != nil {
			return err
		}
		screenshot.BlobThumbnail = names.Thumbnail
		screenshot.BlobFHD = names.FHD
		screenshot.Blob4K = names.FourK

		if in.Healthcheck {
			return e.deleteTx(ctx, screenshot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !in.Healthcheck {
		e.scheduleCityNameTranslation(screenshot)
		e.scheduleEmbedding(screenshot, images.FHD)
		e.log.WithFields(logrus.Fields{
			"screenshot": screenshot.ID.Hex(),
			"creator":    in.Creator.Name(),
			"city":       in.CityName,
		}).Info("screenshot ingested")
	}
	return screenshot, nil
}

// enforceQuota applies the 24-hour upload limit across the creator's
// identities. The ip side of the filter matches against the hwid
// history, matching the long-standing production behavior.
func (e *Engine) enforceQuota(ctx context.Context, creator *models.Creator) error {
	or := []bson.M{{"creatorId": creator.ID}}
	if len(creator.HWIDs) > 0 {
		or = append(or, bson.M{"hwid": bson.M{"$in": creator.HWIDs}})
		or = append(or, bson.M{"ip": bson.M{"$in": creator.HWIDs}})
	}

	since := e.now().UTC().Add(-24 * time.Hour)
	recent, err := e.store.FindCreatedSince(ctx, since, or)
	if err != nil {
		return fmt.Errorf("quota check failed: %w", err)
	}

	if len(recent) >= e.cfg.LimitPer24h {
		notBefore := recent[0].CreatedAt.Add(24 * time.Hour)
		return hoferr.RateLimit(
			fmt.Sprintf("upload limit of %d screenshots per 24 hours reached", e.cfg.LimitPer24h),
			notBefore)
	}
	return nil
}

// Delete removes a screenshot, its interactions, embedding and blobs,
// inside a fresh transaction.
func (e *Engine) Delete(ctx context.Context, id primitive.ObjectID) error {
	screenshot, err := e.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		return e.deleteTx(ctx, screenshot)
	})
}

// deleteTx is the delete path, runnable under a supplied transaction:
// embedding, interaction rows, the screenshot row, then the blobs. A
// blob deletion failure past this point is fatal to the caller.
func (e *Engine) deleteTx(ctx context.Context, screenshot *models.Screenshot) error {
	if err := e.sim.DeleteEmbedding(ctx, screenshot.ID); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	if err := e.favorites.DeleteByScreenshot(ctx, screenshot.ID); err != nil {
		return err
	}
	if err := e.views.DeleteByScreenshot(ctx, screenshot.ID); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, screenshot.ID); err != nil {
		return err
	}

	names := blob.Names{
		Thumbnail: screenshot.BlobThumbnail,
		FHD:       screenshot.BlobFHD,
		FourK:     screenshot.Blob4K,
	}
	if err := e.blobs.DeleteImages(ctx, names); err != nil {
		return fmt.Errorf("blob deletion failed: %w", err)
	}
	return nil
}

// MarkReported flags a screenshot, refusing when it was already
// approved by moderation.
func (e *Engine) MarkReported(ctx context.Context, id, reporterID primitive.ObjectID) error {
	screenshot, err := e.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if screenshot.IsApproved {
		return hoferr.New(hoferr.KindAlreadyApproved, "this screenshot has been approved and cannot be reported")
	}
	return e.store.SetReported(ctx, id, reporterID)
}

// UnmarkReported approves a screenshot, clearing the report and its
// reporter.
func (e *Engine) UnmarkReported(ctx context.Context, id primitive.ObjectID) error {
	return e.store.SetApproved(ctx, id)
}

// scheduleCityNameTranslation queues a background translation of the
// city name. Failures are logged, never propagated.
func (e *Engine) scheduleCityNameTranslation(screenshot *models.Screenshot) {
	if !translate.NeedsTranslation(screenshot.CityName) {
		return
	}
	id := screenshot.ID
	cityName := screenshot.CityName
	e.scheduler.Submit("city-name-translation", func(ctx context.Context) error {
		translated, err := e.translator.TranslateName(ctx, cityName)
		if err != nil {
			return fmt.Errorf("failed to translate city name: %w", err)
		}
		if translated == nil {
			return nil
		}
		return e.store.SetTranslatedCityName(ctx, id, translated)
	})
}

// scheduleEmbedding queues the post-ingest embedding inference from
// the in-memory FHD buffer.
func (e *Engine) scheduleEmbedding(screenshot *models.Screenshot, fhd []byte) {
	source := similarity.Source{ScreenshotID: screenshot.ID, Data: fhd}
	e.scheduler.Submit("screenshot-embedding", func(ctx context.Context) error {
		return e.sim.BatchUpdateEmbeddings(ctx, "ingest-"+screenshot.ID.Hex(),
			[]similarity.Source{source})
	})
}
