package screenshots

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/models"
	"github.com/halloffame/hof-server/internal/similarity"
)

// fakeStore keeps screenshots in memory and applies the identity OR of
// the quota query.
type fakeStore struct {
	rows map[primitive.ObjectID]*models.Screenshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[primitive.ObjectID]*models.Screenshot{}}
}

func (s *fakeStore) seed(row *models.Screenshot) {
	clone := *row
	s.rows[row.ID] = &clone
}

func (s *fakeStore) Insert(ctx context.Context, screenshot *models.Screenshot) error {
	if screenshot.ID.IsZero() {
		screenshot.ID = primitive.NewObjectID()
	}
	clone := *screenshot
	s.rows[screenshot.ID] = &clone
	return nil
}

func (s *fakeStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Screenshot, error) {
	row, ok := s.rows[id]
	if !ok {
		return nil, hoferr.Newf(hoferr.KindNotFound, "screenshot %s not found", id.Hex())
	}
	clone := *row
	return &clone, nil
}

func (s *fakeStore) FindByCreator(ctx context.Context, creatorID primitive.ObjectID) ([]models.Screenshot, error) {
	var out []models.Screenshot
	for _, row := range s.rows {
		if row.CreatorID == creatorID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *fakeStore) FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Screenshot, error) {
	var out []models.Screenshot
	for _, id := range ids {
		if row, ok := s.rows[id]; ok {
			out = append(out, *row)
		}
	}
	return out, nil
}

func matchesIdentityOr(row *models.Screenshot, or []bson.M) bool {
	for _, clause := range or {
		if id, ok := clause["creatorId"]; ok && id == row.CreatorID {
			return true
		}
		if in, ok := clause["hwid"]; ok && row.HWID != nil {
			for _, hwid := range in.(bson.M)["$in"].([]string) {
				if hwid == *row.HWID {
					return true
				}
			}
		}
		if in, ok := clause["ip"]; ok && row.IP != "" {
			for _, ip := range in.(bson.M)["$in"].([]string) {
				if ip == row.IP {
					return true
				}
			}
		}
	}
	return false
}

func (s *fakeStore) FindCreatedSince(ctx context.Context, since time.Time, identityOr []bson.M) ([]models.Screenshot, error) {
	var out []models.Screenshot
	for _, row := range s.rows {
		if row.CreatedAt.Before(since) {
			continue
		}
		if matchesIdentityOr(row, identityOr) {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) SetBlobNames(ctx context.Context, id primitive.ObjectID, thumbnail, fhd, fourK string) error {
	row, ok := s.rows[id]
	if !ok {
		return hoferr.Newf(hoferr.KindNotFound, "screenshot %s not found", id.Hex())
	}
	row.BlobThumbnail = thumbnail
	row.BlobFHD = fhd
	row.Blob4K = fourK
	return nil
}

func (s *fakeStore) SetReported(ctx context.Context, id, reporterID primitive.ObjectID) error {
	row, ok := s.rows[id]
	if !ok {
		return hoferr.Newf(hoferr.KindNotFound, "screenshot %s not found", id.Hex())
	}
	row.IsReported = true
	row.ReportedByID = &reporterID
	return nil
}

func (s *fakeStore) SetApproved(ctx context.Context, id primitive.ObjectID) error {
	row, ok := s.rows[id]
	if !ok {
		return hoferr.Newf(hoferr.KindNotFound, "screenshot %s not found", id.Hex())
	}
	row.IsApproved = true
	row.IsReported = false
	row.ReportedByID = nil
	return nil
}

func (s *fakeStore) SetTranslatedCityName(ctx context.Context, id primitive.ObjectID, translated *models.TranslatedName) error {
	row, ok := s.rows[id]
	if !ok {
		return hoferr.Newf(hoferr.KindNotFound, "screenshot %s not found", id.Hex())
	}
	row.TranslatedCityName = translated
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	if _, ok := s.rows[id]; !ok {
		return hoferr.Newf(hoferr.KindNotFound, "screenshot %s not found", id.Hex())
	}
	delete(s.rows, id)
	return nil
}

type fakeFavoriteMerge struct {
	rows []models.Favorite
}

func (s *fakeFavoriteMerge) FindByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) ([]models.Favorite, error) {
	var out []models.Favorite
	for _, row := range s.rows {
		if row.ScreenshotID == screenshotID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeFavoriteMerge) Reparent(ctx context.Context, id, targetScreenshotID primitive.ObjectID) error {
	for i := range s.rows {
		if s.rows[i].ID == id {
			s.rows[i].ScreenshotID = targetScreenshotID
			return nil
		}
	}
	return hoferr.New(hoferr.KindNotFound, "favorite not found")
}

func (s *fakeFavoriteMerge) SetFavoritedAt(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	for i := range s.rows {
		if s.rows[i].ID == id {
			s.rows[i].FavoritedAt = at
			return nil
		}
	}
	return hoferr.New(hoferr.KindNotFound, "favorite not found")
}

func (s *fakeFavoriteMerge) DeleteByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) error {
	kept := s.rows[:0]
	for _, row := range s.rows {
		if row.ScreenshotID != screenshotID {
			kept = append(kept, row)
		}
	}
	s.rows = kept
	return nil
}

type fakeViewMerge struct {
	rows []models.View
}

func (s *fakeViewMerge) FindByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) ([]models.View, error) {
	var out []models.View
	for _, row := range s.rows {
		if row.ScreenshotID == screenshotID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeViewMerge) Reparent(ctx context.Context, id, targetScreenshotID primitive.ObjectID) error {
	for i := range s.rows {
		if s.rows[i].ID == id {
			s.rows[i].ScreenshotID = targetScreenshotID
			return nil
		}
	}
	return hoferr.New(hoferr.KindNotFound, "view not found")
}

func (s *fakeViewMerge) SetViewedAt(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	for i := range s.rows {
		if s.rows[i].ID == id {
			s.rows[i].ViewedAt = at
			return nil
		}
	}
	return hoferr.New(hoferr.KindNotFound, "view not found")
}

func (s *fakeViewMerge) DeleteByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) error {
	kept := s.rows[:0]
	for _, row := range s.rows {
		if row.ScreenshotID != screenshotID {
			kept = append(kept, row)
		}
	}
	s.rows = kept
	return nil
}

type fakeSupporterSource struct {
	supporter *models.Creator
}

func (s *fakeSupporterSource) SampleSupporter(ctx context.Context) (*models.Creator, error) {
	return s.supporter, nil
}

type fakeSeenSource struct {
	ids []primitive.ObjectID
}

func (s *fakeSeenSource) GetViewedFor(ctx context.Context, creator *models.Creator, maxAgeDays int) ([]primitive.ObjectID, error) {
	return s.ids, nil
}

// passTx runs the function without any transaction machinery.
type passTx struct{}

func (passTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeAggregator answers selection pipelines through a pluggable
// responder, recording the $match stage of every call.
type fakeAggregator struct {
	respond func(pipeline mongo.Pipeline) []models.Screenshot
	stats   []CreatorStats
	matches []bson.M
}

func firstMatch(pipeline mongo.Pipeline) bson.M {
	if len(pipeline) > 0 && pipeline[0][0].Key == "$match" {
		return pipeline[0][0].Value.(bson.M)
	}
	return nil
}

func (a *fakeAggregator) Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline, out any) error {
	a.matches = append(a.matches, firstMatch(pipeline))
	switch dst := out.(type) {
	case *[]models.Screenshot:
		if a.respond != nil {
			*dst = a.respond(pipeline)
		}
	case *[]CreatorStats:
		*dst = a.stats
	}
	return nil
}

type fakeSimilarity struct {
	batches []string
	sources int
	deleted []primitive.ObjectID
}

func (s *fakeSimilarity) BatchUpdateEmbeddings(ctx context.Context, batchName string, sources []similarity.Source) error {
	s.batches = append(s.batches, batchName)
	s.sources += len(sources)
	return nil
}

func (s *fakeSimilarity) DeleteEmbedding(ctx context.Context, screenshotID primitive.ObjectID) error {
	s.deleted = append(s.deleted, screenshotID)
	return nil
}

type fakeStats struct {
	requested  []primitive.ObjectID
	reconciled [][]primitive.ObjectID
}

func (s *fakeStats) RequestStatsUpdate(id primitive.ObjectID) {
	s.requested = append(s.requested, id)
}

func (s *fakeStats) Reconcile(ctx context.Context, ids []primitive.ObjectID, nice bool) error {
	s.reconciled = append(s.reconciled, ids)
	return nil
}

// syncScheduler runs submitted jobs inline.
type syncScheduler struct {
	jobs []string
}

func (s *syncScheduler) Submit(name string, fn func(ctx context.Context) error) {
	s.jobs = append(s.jobs, name)
	_ = fn(context.Background())
}

type fakeTranslator struct {
	result *models.TranslatedName
}

func (t *fakeTranslator) TranslateName(ctx context.Context, name string) (*models.TranslatedName, error) {
	return t.result, nil
}
