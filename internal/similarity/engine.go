// Package similarity detects perceptually similar screenshots through
// a feature-vector model running in a sidecar worker process and a
// flat in-memory cosine index.
package similarity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/halloffame/hof-server/internal/models"
)

// maxNeighbors caps a similarity query's result set.
const maxNeighbors = 20

// EmbeddingStore is the slice of the persistence gateway the engine
// needs.
type EmbeddingStore interface {
	FindByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) (*models.FeatureEmbedding, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.FeatureEmbedding, error)
	All(ctx context.Context, fn func(e *models.FeatureEmbedding) error) error
	Upsert(ctx context.Context, e *models.FeatureEmbedding) error
	DeleteByScreenshot(ctx context.Context, screenshotID primitive.ObjectID) error
}

// BlobDownloader fetches image bytes for screenshots without an inline
// buffer.
type BlobDownloader interface {
	DownloadToBuffer(ctx context.Context, name string) ([]byte, error)
}

// Inferrer produces embedding vectors; the sidecar worker client
// implements it.
type Inferrer interface {
	Start() error
	Infer(ctx context.Context, images [][]byte) ([][]float32, error)
}

// Source is one screenshot to embed: an inline buffer when the caller
// has the bytes (post-ingest), otherwise the FHD blob is downloaded.
type Source struct {
	ScreenshotID primitive.ObjectID
	BlobName     string
	Data         []byte
}

// Match is one similar screenshot, cosine distance ascending.
type Match struct {
	ScreenshotID primitive.ObjectID
	Distance     float32
}

// Engine owns the embeddings and the lazily built vector index.
type Engine struct {
	store  EmbeddingStore
	blobs  BlobDownloader
	worker Inferrer
	log    *logrus.Entry

	indexOnce sync.Once
	indexErr  error
	index     *Index

	mu         sync.Mutex
	indexBuilt bool
}

func NewEngine(store EmbeddingStore, blobs BlobDownloader, worker Inferrer, log *logrus.Logger) *Engine {
	return &Engine{
		store:  store,
		blobs:  blobs,
		worker: worker,
		log:    log.WithField("component", "similarity"),
	}
}

// Warmup spawns the worker and builds the index ahead of the first
// query. Production calls it at boot.
func (e *Engine) Warmup(ctx context.Context) error {
	if err := e.worker.Start(); err != nil {
		return err
	}
	return e.ensureIndex(ctx)
}

// ensureIndex builds the vector index exactly once: all embeddings are
// loaded and packed into the contiguous buffer.
func (e *Engine) ensureIndex(ctx context.Context) error {
	e.indexOnce.Do(func() {
		index := NewIndex(models.EmbeddingDim)
		count := 0
		e.indexErr = e.store.All(ctx, func(emb *models.FeatureEmbedding) error {
			key, err := indexKey(emb.ID)
			if err != nil {
				return err
			}
			if err := index.Add(key, emb.Vector); err != nil {
				return fmt.Errorf("embedding %s: %w", emb.ID, err)
			}
			count++
			return nil
		})
		if e.indexErr != nil {
			return
		}

		e.index = index
		e.mu.Lock()
		e.indexBuilt = true
		e.mu.Unlock()
		e.log.WithField("vectors", count).Info("vector index built")
	})
	return e.indexErr
}

func (e *Engine) built() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexBuilt
}

// BatchUpdateEmbeddings embeds a batch of screenshots and upserts
// their rows. The in-memory index is only touched when it has already
// been materialised.
func (e *Engine) BatchUpdateEmbeddings(ctx context.Context, batchName string, sources []Source) error {
	if len(sources) == 0 {
		return nil
	}

	images := make([][]byte, len(sources))
	for i, src := range sources {
		if src.Data != nil {
			images[i] = src.Data
			continue
		}
		data, err := e.blobs.DownloadToBuffer(ctx, src.BlobName)
		if err != nil {
			return fmt.Errorf("batch %s: failed to download %s: %w", batchName, src.BlobName, err)
		}
		images[i] = data
	}

	vectors, err := e.worker.Infer(ctx, images)
	if err != nil {
		return fmt.Errorf("batch %s: %w", batchName, err)
	}
	if len(vectors) != len(sources) {
		return fmt.Errorf("batch %s: got %d vectors for %d images", batchName, len(vectors), len(sources))
	}

	for i, src := range sources {
		existing, err := e.store.FindByScreenshot(ctx, src.ScreenshotID)
		if err != nil {
			return err
		}

		embedding := &models.FeatureEmbedding{
			ScreenshotID: src.ScreenshotID,
			Vector:       vectors[i],
		}
		if existing != nil {
			embedding.ID = existing.ID
		} else {
			embedding.ID, err = newEmbeddingID()
			if err != nil {
				return err
			}
		}

		if err := e.store.Upsert(ctx, embedding); err != nil {
			return fmt.Errorf("failed to upsert embedding for %s: %w", src.ScreenshotID.Hex(), err)
		}

		if e.built() {
			key, err := indexKey(embedding.ID)
			if err != nil {
				return err
			}
			e.index.Remove(key)
			if err := e.index.Add(key, vectors[i]); err != nil {
				return err
			}
		}
	}

	e.log.WithFields(logrus.Fields{
		"batch": batchName,
		"count": len(sources),
	}).Debug("embeddings updated")
	return nil
}

// DeleteEmbedding removes a screenshot's embedding row and, when the
// index is built, its index entry.
func (e *Engine) DeleteEmbedding(ctx context.Context, screenshotID primitive.ObjectID) error {
	existing, err := e.store.FindByScreenshot(ctx, screenshotID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	if err := e.store.DeleteByScreenshot(ctx, screenshotID); err != nil {
		return err
	}

	if e.built() {
		key, err := indexKey(existing.ID)
		if err != nil {
			return err
		}
		e.index.Remove(key)
	}
	return nil
}

// FindSimilarScreenshots returns up to 20 nearest neighbors of the
// query screenshot under cosine distance, dropping the query itself
// and anything past maxDistance.
func (e *Engine) FindSimilarScreenshots(ctx context.Context, screenshotID primitive.ObjectID, maxDistance float32) ([]Match, error) {
	embedding, err := e.store.FindByScreenshot(ctx, screenshotID)
	if err != nil {
		return nil, err
	}
	if embedding == nil {
		return nil, fmt.Errorf("screenshot %s has no embedding", screenshotID.Hex())
	}

	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}

	selfKey, err := indexKey(embedding.ID)
	if err != nil {
		return nil, err
	}

	neighbors := e.index.Search(embedding.Vector, maxNeighbors, maxDistance, selfKey)
	if len(neighbors) == 0 {
		return nil, nil
	}

	ids := make([]string, len(neighbors))
	for i, n := range neighbors {
		ids[i] = fmt.Sprintf("%016x", n.Key)
	}
	rows, err := e.store.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]primitive.ObjectID, len(rows))
	for _, row := range rows {
		byID[row.ID] = row.ScreenshotID
	}

	matches := make([]Match, 0, len(neighbors))
	for i, n := range neighbors {
		sid, ok := byID[ids[i]]
		if !ok {
			// Index entry outlived its row; skip it.
			continue
		}
		matches = append(matches, Match{ScreenshotID: sid, Distance: n.Distance})
	}
	return matches, nil
}

// newEmbeddingID generates a fresh 16-hex id, the index key in string
// form.
func newEmbeddingID() (string, error) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("failed to generate embedding id: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// indexKey parses a 16-hex embedding id into its index key.
func indexKey(id string) (uint64, error) {
	key, err := strconv.ParseUint(id, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("embedding id %q is not 16-hex: %w", id, err)
	}
	return key, nil
}
