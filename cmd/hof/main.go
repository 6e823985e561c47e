package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/halloffame/hof-server/internal/bans"
	"github.com/halloffame/hof-server/internal/blob"
	"github.com/halloffame/hof-server/internal/config"
	"github.com/halloffame/hof-server/internal/creators"
	"github.com/halloffame/hof-server/internal/favorites"
	"github.com/halloffame/hof-server/internal/hofdb"
	"github.com/halloffame/hof-server/internal/httpapi"
	"github.com/halloffame/hof-server/internal/imgproc"
	"github.com/halloffame/hof-server/internal/jobs"
	"github.com/halloffame/hof-server/internal/metrics"
	"github.com/halloffame/hof-server/internal/screenshots"
	"github.com/halloffame/hof-server/internal/similarity"
	"github.com/halloffame/hof-server/internal/stats"
	"github.com/halloffame/hof-server/internal/translate"
	"github.com/halloffame/hof-server/internal/views"
)

func main() {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		if err := serve(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "worker":
		if err := worker(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: hof <command>")
	fmt.Println("\nCommands:")
	fmt.Println("  serve          Start the API server (default)")
	fmt.Println("  worker         Run the inference sidecar on stdin/stdout")
	fmt.Println("  help           Show this help message")
}

// worker runs the inference sidecar; the server spawns it as a child
// process with frames on stdin/stdout.
func worker() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return similarity.RunWorker(cfg.Similarity, os.Stdin, os.Stdout)
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
		}); err != nil {
			return fmt.Errorf("failed to initialise sentry: %w", err)
		}
		defer sentry.Flush(5 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := hofdb.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(context.Background()); err != nil {
			log.WithError(err).Warn("database disconnect failed")
		}
	}()
	if err := db.EnsureIndexes(ctx); err != nil {
		return err
	}

	blobs, err := newBlobStore(cfg, log)
	if err != nil {
		return err
	}

	runner := jobs.NewRunner(ctx, 4, log)
	defer runner.Drain()

	translator := translate.Noop{}
	creatorRegistry := creators.NewRegistry(db.Creators(), translator, runner, log)
	banRegistry := bans.NewRegistry(db.Bans(), db.Creators(), cfg.SupportContact, log)
	viewTracker := views.NewTracker(db.Views(), db.Screenshots(), log)
	favoriteTracker := favorites.NewTracker(db.Favorites(), db.Screenshots(), log)
	reconciler := stats.NewReconciler(db, db.Screenshots(), log)

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve own binary: %w", err)
	}
	workerClient := similarity.NewWorkerClient(binary, []string{"worker"}, log)
	defer workerClient.Shutdown()
	simEngine := similarity.NewEngine(db.Embeddings(), blobs, workerClient, log)

	engine := screenshots.NewEngine(cfg.Screenshots, screenshots.Deps{
		Store:      db.Screenshots(),
		Favorites:  db.Favorites(),
		Views:      db.Views(),
		Creators:   db.Creators(),
		Seen:       viewTracker,
		Blobs:      blobs,
		Processor:  imgproc.New(cfg.Screenshots.JPEGQuality),
		Similarity: simEngine,
		Stats:      reconciler,
		Tx:         db,
		Aggregator: db,
		Translator: translator,
		Scheduler:  runner,
	}, log)

	scheduler, err := stats.NewScheduler(ctx, reconciler, log)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.IsProduction() {
		// Pay the worker spawn and index build at boot, not on the
		// first similarity query.
		runner.Submit("similarity-warmup", simEngine.Warmup)
	}

	server := httpapi.NewServer(cfg, httpapi.Deps{
		Bans:       banRegistry,
		Creators:   creatorRegistry,
		Views:      viewTracker,
		Favorites:  favoriteTracker,
		Engine:     engine,
		Similarity: simEngine,
		Stats:      reconciler,
		Blobs:      blobs,
		Metrics:    metrics.New(),
	}, log)

	return server.Run(ctx)
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if cfg.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// newBlobStore picks Azure when a connection string is configured,
// otherwise the local file store.
func newBlobStore(cfg *config.Config, log *logrus.Logger) (blob.Store, error) {
	if cfg.Blob.ConnectionURL != "" {
		return blob.NewAzureStore(cfg.Blob)
	}
	log.WithField("dir", cfg.Blob.LocalDir).Info("using local blob store")
	return blob.NewFileStore(afero.NewOsFs(), cfg.Blob), nil
}
