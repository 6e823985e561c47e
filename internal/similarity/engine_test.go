package similarity

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/halloffame/hof-server/internal/models"
	"github.com/halloffame/hof-server/internal/testutil"
)

type fakeEmbeddingStore struct {
	rows map[string]*models.FeatureEmbedding
}

func newFakeEmbeddingStore() *fakeEmbeddingStore {
	return &fakeEmbeddingStore{rows: map[string]*models.FeatureEmbedding{}}
}

func (s *fakeEmbeddingStore) FindByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) (*models.FeatureEmbedding, error) {
	for _, row := range s.rows {
		if row.ScreenshotID == screenshotID {
			clone := *row
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *fakeEmbeddingStore) FindByIDs(ctx context.Context, ids []string) ([]models.FeatureEmbedding, error) {
	var out []models.FeatureEmbedding
	for _, id := range ids {
		if row, ok := s.rows[id]; ok {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *fakeEmbeddingStore) All(ctx context.Context, fn func(e *models.FeatureEmbedding) error) error {
	for _, row := range s.rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeEmbeddingStore) Upsert(ctx context.Context, e *models.FeatureEmbedding) error {
	clone := *e
	s.rows[e.ID] = &clone
	return nil
}

func (s *fakeEmbeddingStore) DeleteByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) error {
	for id, row := range s.rows {
		if row.ScreenshotID == screenshotID {
			delete(s.rows, id)
		}
	}
	return nil
}

type fakeDownloader struct {
	blobs map[string][]byte
}

func (d *fakeDownloader) DownloadToBuffer(ctx context.Context, name string) ([]byte, error) {
	data, ok := d.blobs[name]
	if !ok {
		return nil, fmt.Errorf("no blob %s", name)
	}
	return data, nil
}

// fakeInferrer maps each image's first byte to a unit vector axis.
type fakeInferrer struct{}

func (fakeInferrer) Start() error { return nil }

func (fakeInferrer) Infer(ctx context.Context, images [][]byte) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		out[i] = testutil.UnitVector(models.EmbeddingDim, int(img[0]))
	}
	return out, nil
}

func newTestEngine(store *fakeEmbeddingStore) *Engine {
	return NewEngine(store, &fakeDownloader{blobs: map[string][]byte{}}, fakeInferrer{}, testutil.Logger())
}

var hex16 = regexp.MustCompile(`^[0-9a-f]{16}$`)

func TestBatchUpdateEmbeddingsCreatesRows(t *testing.T) {
	store := newFakeEmbeddingStore()
	e := newTestEngine(store)
	ctx := context.Background()

	a, b := testutil.OID(1), testutil.OID(2)
	err := e.BatchUpdateEmbeddings(ctx, "test", []Source{
		{ScreenshotID: a, Data: []byte{0}},
		{ScreenshotID: b, Data: []byte{1}},
	})
	require.NoError(t, err)
	require.Len(t, store.rows, 2)

	for id, row := range store.rows {
		assert.Regexp(t, hex16, id)
		assert.Len(t, row.Vector, models.EmbeddingDim)
	}
}

func TestBatchUpdateEmbeddingsKeepsExistingID(t *testing.T) {
	store := newFakeEmbeddingStore()
	e := newTestEngine(store)
	ctx := context.Background()

	a := testutil.OID(1)
	require.NoError(t, e.BatchUpdateEmbeddings(ctx, "first", []Source{{ScreenshotID: a, Data: []byte{0}}}))

	var originalID string
	for id := range store.rows {
		originalID = id
	}

	require.NoError(t, e.BatchUpdateEmbeddings(ctx, "second", []Source{{ScreenshotID: a, Data: []byte{2}}}))
	require.Len(t, store.rows, 1)
	_, ok := store.rows[originalID]
	assert.True(t, ok)
}

func TestFindSimilarScreenshots(t *testing.T) {
	store := newFakeEmbeddingStore()
	e := newTestEngine(store)
	ctx := context.Background()

	a, b, c := testutil.OID(1), testutil.OID(2), testutil.OID(3)
	require.NoError(t, e.BatchUpdateEmbeddings(ctx, "seed", []Source{
		{ScreenshotID: a, Data: []byte{0}},
		{ScreenshotID: b, Data: []byte{0}}, // identical to a
		{ScreenshotID: c, Data: []byte{5}}, // orthogonal
	}))

	matches, err := e.FindSimilarScreenshots(ctx, a, 0.5)
	require.NoError(t, err)

	// The query's own vector is skipped; the orthogonal one is past
	// the cutoff.
	require.Len(t, matches, 1)
	assert.Equal(t, b, matches[0].ScreenshotID)
	assert.InDelta(t, 0, matches[0].Distance, 1e-6)
}

func TestDeleteEmbeddingRemovesRowAndIndexEntry(t *testing.T) {
	store := newFakeEmbeddingStore()
	e := newTestEngine(store)
	ctx := context.Background()

	a, b := testutil.OID(1), testutil.OID(2)
	require.NoError(t, e.BatchUpdateEmbeddings(ctx, "seed", []Source{
		{ScreenshotID: a, Data: []byte{0}},
		{ScreenshotID: b, Data: []byte{0}},
	}))

	// Materialise the index, then delete.
	_, err := e.FindSimilarScreenshots(ctx, a, 2)
	require.NoError(t, err)
	require.NoError(t, e.DeleteEmbedding(ctx, b))

	matches, err := e.FindSimilarScreenshots(ctx, a, 2)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Len(t, store.rows, 1)
}

func TestDeleteEmbeddingWithoutRowIsNoop(t *testing.T) {
	e := newTestEngine(newFakeEmbeddingStore())
	assert.NoError(t, e.DeleteEmbedding(context.Background(), testutil.OID(9)))
}

func TestL2Normalize(t *testing.T) {
	vec := []float32{3, 4}
	l2Normalize(vec)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1, math.Sqrt(sum), 1e-6)

	zero := []float32{0, 0}
	l2Normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}
