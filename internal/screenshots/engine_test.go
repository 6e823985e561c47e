package screenshots

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halloffame/hof-server/internal/blob"
	"github.com/halloffame/hof-server/internal/config"
	"github.com/halloffame/hof-server/internal/hoferr"
	"github.com/halloffame/hof-server/internal/imgproc"
	"github.com/halloffame/hof-server/internal/models"
	"github.com/halloffame/hof-server/internal/testutil"
)

type engineFixture struct {
	store      *fakeStore
	favorites  *fakeFavoriteMerge
	views      *fakeViewMerge
	supporters *fakeSupporterSource
	seen       *fakeSeenSource
	blobs      *blob.FileStore
	sim        *fakeSimilarity
	stats      *fakeStats
	agg        *fakeAggregator
	scheduler  *syncScheduler
	translator *fakeTranslator
	engine     *Engine
}

func newFixtureCfg(cfg config.Screenshots) *engineFixture {
	f := &engineFixture{
		store:      newFakeStore(),
		favorites:  &fakeFavoriteMerge{},
		views:      &fakeViewMerge{},
		supporters: &fakeSupporterSource{},
		seen:       &fakeSeenSource{},
		sim:        &fakeSimilarity{},
		stats:      &fakeStats{},
		agg:        &fakeAggregator{},
		scheduler:  &syncScheduler{},
		translator: &fakeTranslator{},
	}
	f.blobs = blob.NewFileStore(afero.NewMemMapFs(), config.Blob{
		LocalDir:  "blobs",
		Container: "screenshots",
		CDN:       "https://cdn.test",
	}).WithClock(testutil.Clock(testutil.FixedTime))

	f.engine = NewEngine(cfg, Deps{
		Store:      f.store,
		Favorites:  f.favorites,
		Views:      f.views,
		Creators:   f.supporters,
		Seen:       f.seen,
		Blobs:      f.blobs,
		Processor:  imgproc.New(cfg.JPEGQuality),
		Similarity: f.sim,
		Stats:      f.stats,
		Tx:         passTx{},
		Aggregator: f.agg,
		Translator: f.translator,
		Scheduler:  f.scheduler,
	}, testutil.Logger()).WithClock(testutil.Clock(testutil.FixedTime))
	return f
}

func newFixture() *engineFixture {
	return newFixtureCfg(config.Screenshots{
		JPEGQuality:          85,
		MaxFileSizeBytes:     20 << 20,
		LimitPer24h:          10,
		RecencyThresholdDays: 30,
	})
}

func validInput(t *testing.T, creator *models.Creator) *IngestInput {
	t.Helper()
	return &IngestInput{
		Creator:        creator,
		CityName:       "Springfield",
		CityMilestone:  5,
		CityPopulation: 10_000,
		File:           testutil.JPEG(t, 512, 288),
	}
}

func TestIngestPersistsRowAndBlobs(t *testing.T) {
	f := newFixture()
	creator := testutil.Creator("Ann")

	out, err := f.engine.Ingest(context.Background(), validInput(t, creator))
	require.NoError(t, err)

	stored, err := f.store.FindByID(context.Background(), out.ID)
	require.NoError(t, err)
	assert.Equal(t, "Springfield", stored.CityName)
	assert.Equal(t, creator.ID, stored.CreatorID)
	assert.False(t, stored.IsReported)
	assert.Equal(t, testutil.FixedTime, stored.CreatedAt)

	require.NotEmpty(t, stored.BlobThumbnail)
	assert.True(t, f.blobs.Exists(stored.BlobThumbnail))
	assert.True(t, f.blobs.Exists(stored.BlobFHD))
	assert.True(t, f.blobs.Exists(stored.Blob4K))

	// The embedding runs from the in-memory buffer after commit.
	assert.Contains(t, f.scheduler.jobs, "screenshot-embedding")
	assert.Contains(t, f.sim.batches, "ingest-"+out.ID.Hex())
	assert.NotContains(t, f.scheduler.jobs, "city-name-translation")
}

func TestIngestValidationBoundaries(t *testing.T) {
	cases := []struct {
		name       string
		mutate     func(in *IngestInput)
		expectKind hoferr.Kind
	}{
		{"single char city name", func(in *IngestInput) { in.CityName = "A" }, ""},
		{"empty city name", func(in *IngestInput) { in.CityName = "" }, hoferr.KindInvalidCityName},
		{"36 char city name", func(in *IngestInput) { in.CityName = strings.Repeat("a", 36) }, hoferr.KindInvalidCityName},
		{"city name with markup", func(in *IngestInput) { in.CityName = "<b>Oslo</b>" }, hoferr.KindInvalidCityName},
		{"unicode city name", func(in *IngestInput) { in.CityName = "Belle Rivière" }, ""},
		{"milestone at cap", func(in *IngestInput) { in.CityMilestone = MaxCityMilestone }, ""},
		{"milestone past cap", func(in *IngestInput) { in.CityMilestone = MaxCityMilestone + 1 }, hoferr.KindInvalidPayload},
		{"negative milestone", func(in *IngestInput) { in.CityMilestone = -1 }, hoferr.KindInvalidPayload},
		{"population at cap", func(in *IngestInput) { in.CityPopulation = MaxCityPopulation }, ""},
		{"population past cap", func(in *IngestInput) { in.CityPopulation = MaxCityPopulation + 1 }, hoferr.KindInvalidPayload},
		{"negative population", func(in *IngestInput) { in.CityPopulation = -1 }, hoferr.KindInvalidPayload},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			in := validInput(t, testutil.Creator("Ann"))
			tc.mutate(in)

			_, err := f.engine.Ingest(context.Background(), in)
			if tc.expectKind == "" {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tc.expectKind, hoferr.KindOf(err))
			}
		})
	}
}

func TestIngestRejectsGarbageImage(t *testing.T) {
	f := newFixture()
	in := validInput(t, testutil.Creator("Ann"))
	in.File = []byte("definitely not a jpeg")

	_, err := f.engine.Ingest(context.Background(), in)
	assert.True(t, hoferr.IsKind(err, hoferr.KindInvalidImageFormat))
}

func TestIngestQuota(t *testing.T) {
	cfg := config.Screenshots{JPEGQuality: 85, LimitPer24h: 2, RecencyThresholdDays: 30}
	f := newFixtureCfg(cfg)
	creator := testutil.Creator("Ann")

	oldest := testutil.FixedTime.Add(-20 * time.Hour)
	first := testutil.Screenshot(creator, "One")
	first.CreatedAt = oldest
	second := testutil.Screenshot(creator, "Two")
	second.CreatedAt = testutil.FixedTime.Add(-1 * time.Hour)
	f.store.seed(first)
	f.store.seed(second)

	_, err := f.engine.Ingest(context.Background(), validInput(t, creator))
	require.True(t, hoferr.IsKind(err, hoferr.KindRateLimitExceeded))

	var domainErr *hoferr.Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, oldest.Add(24*time.Hour), domainErr.NotBefore)
}

func TestIngestQuotaMatchesAcrossIdentities(t *testing.T) {
	cfg := config.Screenshots{JPEGQuality: 85, LimitPer24h: 2, RecencyThresholdDays: 30}
	f := newFixtureCfg(cfg)
	creator := testutil.Creator("Ann")

	// A different account on the same device.
	other := testutil.Creator("Bob")
	other.HWIDs = creator.HWIDs
	byHWID := testutil.Screenshot(other, "One")
	byHWID.CreatedAt = testutil.FixedTime.Add(-2 * time.Hour)

	// The ip side of the quota filter matches against the hwid list.
	stranger := testutil.Creator("Eve")
	byIP := testutil.Screenshot(stranger, "Two")
	byIP.IP = creator.HWIDs[0]
	byIP.CreatedAt = testutil.FixedTime.Add(-1 * time.Hour)

	f.store.seed(byHWID)
	f.store.seed(byIP)

	_, err := f.engine.Ingest(context.Background(), validInput(t, creator))
	assert.True(t, hoferr.IsKind(err, hoferr.KindRateLimitExceeded))
}

func TestIngestQuotaIgnoresOldUploads(t *testing.T) {
	cfg := config.Screenshots{JPEGQuality: 85, LimitPer24h: 1, RecencyThresholdDays: 30}
	f := newFixtureCfg(cfg)
	creator := testutil.Creator("Ann")

	old := testutil.Screenshot(creator, "Old")
	old.CreatedAt = testutil.FixedTime.Add(-25 * time.Hour)
	f.store.seed(old)

	_, err := f.engine.Ingest(context.Background(), validInput(t, creator))
	assert.NoError(t, err)
}

func TestHealthcheckIngestLeavesNothingBehind(t *testing.T) {
	f := newFixture()
	in := validInput(t, testutil.Creator("Ann"))
	in.Healthcheck = true

	out, err := f.engine.Ingest(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, out.IsReported)

	assert.Empty(t, f.store.rows)
	assert.False(t, f.blobs.Exists(out.BlobThumbnail))
	assert.False(t, f.blobs.Exists(out.BlobFHD))
	assert.False(t, f.blobs.Exists(out.Blob4K))
	assert.Empty(t, f.scheduler.jobs)
}

func TestIngestSchedulesCityNameTranslation(t *testing.T) {
	f := newFixture()
	f.translator.result = &models.TranslatedName{
		Locale:     "ja",
		Latinized:  "Tokyo",
		Translated: "Tokyo",
	}

	in := validInput(t, testutil.Creator("Ann"))
	in.CityName = "東京"

	out, err := f.engine.Ingest(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, f.scheduler.jobs, "city-name-translation")

	stored, err := f.store.FindByID(context.Background(), out.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TranslatedCityName)
	assert.Equal(t, "Tokyo", stored.TranslatedCityName.Latinized)
}

func TestDeleteRemovesRowInteractionsAndBlobs(t *testing.T) {
	f := newFixture()
	creator := testutil.Creator("Ann")
	ctx := context.Background()

	out, err := f.engine.Ingest(ctx, validInput(t, creator))
	require.NoError(t, err)

	f.favorites.rows = append(f.favorites.rows, models.Favorite{
		ID: testutil.OID(1), ScreenshotID: out.ID, CreatorID: creator.ID,
	})
	f.views.rows = append(f.views.rows, models.View{
		ID: testutil.OID(2), ScreenshotID: out.ID, CreatorID: creator.ID,
	})

	require.NoError(t, f.engine.Delete(ctx, out.ID))

	assert.Empty(t, f.store.rows)
	assert.Empty(t, f.favorites.rows)
	assert.Empty(t, f.views.rows)
	assert.Contains(t, f.sim.deleted, out.ID)
	assert.False(t, f.blobs.Exists(out.BlobFHD))
}

func TestDeleteUnknownScreenshot(t *testing.T) {
	f := newFixture()
	err := f.engine.Delete(context.Background(), testutil.OID(9))
	assert.True(t, hoferr.IsKind(err, hoferr.KindNotFound))
}

func TestMarkReported(t *testing.T) {
	f := newFixture()
	creator := testutil.Creator("Ann")
	screenshot := testutil.Screenshot(creator, "Oslo")
	f.store.seed(screenshot)

	reporter := testutil.OID(5)
	require.NoError(t, f.engine.MarkReported(context.Background(), screenshot.ID, reporter))

	stored, err := f.store.FindByID(context.Background(), screenshot.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsReported)
	require.NotNil(t, stored.ReportedByID)
	assert.Equal(t, reporter, *stored.ReportedByID)
}

func TestMarkReportedRefusesApproved(t *testing.T) {
	f := newFixture()
	screenshot := testutil.Screenshot(testutil.Creator("Ann"), "Oslo")
	screenshot.IsApproved = true
	f.store.seed(screenshot)

	err := f.engine.MarkReported(context.Background(), screenshot.ID, testutil.OID(5))
	assert.True(t, hoferr.IsKind(err, hoferr.KindAlreadyApproved))
}

func TestUnmarkReportedApproves(t *testing.T) {
	f := newFixture()
	screenshot := testutil.Screenshot(testutil.Creator("Ann"), "Oslo")
	screenshot.IsReported = true
	f.store.seed(screenshot)

	require.NoError(t, f.engine.UnmarkReported(context.Background(), screenshot.ID))

	stored, err := f.store.FindByID(context.Background(), screenshot.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsApproved)
	assert.False(t, stored.IsReported)
	assert.Nil(t, stored.ReportedByID)
}
