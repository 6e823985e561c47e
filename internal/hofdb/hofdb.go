// Package hofdb is the persistence gateway over the document store.
// Driver errors cross this seam unchanged except for uniqueness
// violations (surfaced as the conflict kind) and missing rows on
// update/delete (surfaced as not-found).
package hofdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/halloffame/hof-server/internal/config"
	"github.com/halloffame/hof-server/internal/hoferr"
)

// TxTimeout is the ceiling on a single transaction; the ingest
// transaction in particular auto-aborts past it.
const TxTimeout = 60 * time.Second

const (
	collCreators    = "creators"
	collScreenshots = "screenshots"
	collFavorites   = "favorites"
	collViews       = "views"
	collBans        = "bans"
	collEmbeddings  = "featureEmbeddings"
)

// DB wraps the driver client and exposes the typed repositories.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logrus.Entry
}

// Connect builds the client and verifies connectivity by requesting
// database statistics; a bare connect does not touch the server.
func Connect(ctx context.Context, cfg config.Database, log *logrus.Logger) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to build mongo client: %w", err)
	}

	d := &DB{
		client: client,
		db:     client.Database(cfg.Name),
		log:    log.WithField("component", "hofdb"),
	}

	var stats struct {
		Collections int     `bson:"collections"`
		Objects     int64   `bson:"objects"`
		DataSize    float64 `bson:"dataSize"`
	}
	if err := d.db.RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&stats); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("database statistics probe failed: %w", err)
	}
	d.log.WithFields(logrus.Fields{
		"collections": stats.Collections,
		"objects":     stats.Objects,
	}).Info("connected to database")

	return d, nil
}

// Close disconnects the client.
func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// WithTransaction runs fn inside a multi-document transaction with the
// standard timeout. A fn invoked under an already-open transaction
// joins it instead of nesting.
func (d *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, TxTimeout)
	defer cancel()

	session, err := d.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// Aggregate runs a raw aggregation pipeline and decodes every emitted
// document into out (a pointer to a slice).
func (d *DB) Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline, out any) error {
	cursor, err := d.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("aggregation on %s failed: %w", collection, err)
	}
	defer cursor.Close(ctx)
	return cursor.All(ctx, out)
}

// Repositories.

func (d *DB) Creators() *CreatorRepo       { return &CreatorRepo{d.db.Collection(collCreators)} }
func (d *DB) Screenshots() *ScreenshotRepo { return &ScreenshotRepo{d.db.Collection(collScreenshots)} }
func (d *DB) Favorites() *FavoriteRepo     { return &FavoriteRepo{d.db.Collection(collFavorites)} }
func (d *DB) Views() *ViewRepo             { return &ViewRepo{d.db.Collection(collViews)} }
func (d *DB) Bans() *BanRepo               { return &BanRepo{d.db.Collection(collBans)} }
func (d *DB) Embeddings() *EmbeddingRepo   { return &EmbeddingRepo{d.db.Collection(collEmbeddings)} }

// EnsureIndexes creates the index set the queries rely on. Safe to run
// at every startup.
func (d *DB) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	sparseUnique := options.Index().SetUnique(true).SetSparse(true)

	specs := map[string][]mongo.IndexModel{
		collScreenshots: {
			{Keys: bson.D{{Key: "isReported", Value: 1}, {Key: "favoritingPercentage", Value: -1}}},
			{Keys: bson.D{{Key: "isReported", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "isReported", Value: 1}, {Key: "viewsCount", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "creatorId", Value: 1}}},
		},
		collCreators: {
			{Keys: bson.D{{Key: "creatorId", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "creatorNameSlug", Value: 1}}, Options: sparseUnique},
		},
		collViews: {
			{Keys: bson.D{{Key: "screenshotId", Value: 1}, {Key: "creatorId", Value: 1}}, Options: unique},
		},
		collFavorites: {
			{Keys: bson.D{{Key: "screenshotId", Value: 1}, {Key: "creatorId", Value: 1}}, Options: unique},
		},
		collEmbeddings: {
			{Keys: bson.D{{Key: "screenshotId", Value: 1}}},
		},
	}

	for coll, models := range specs {
		if _, err := d.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// mapErr translates the two driver errors the core gives a domain
// meaning to; everything else passes through.
func mapErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return hoferr.Wrap(hoferr.KindNotFound, what+" not found", err)
	case mongo.IsDuplicateKeyError(err):
		return hoferr.Wrap(hoferr.KindConflict, what+" already exists", err)
	default:
		return err
	}
}
