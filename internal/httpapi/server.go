// Package httpapi is the HTTP transport: routing, the authorisation
// guard, request parsing and response shaping. No domain rule lives
// here.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/halloffame/hof-server/internal/bans"
	"github.com/halloffame/hof-server/internal/blob"
	"github.com/halloffame/hof-server/internal/config"
	"github.com/halloffame/hof-server/internal/creators"
	"github.com/halloffame/hof-server/internal/favorites"
	"github.com/halloffame/hof-server/internal/metrics"
	"github.com/halloffame/hof-server/internal/screenshots"
	"github.com/halloffame/hof-server/internal/similarity"
	"github.com/halloffame/hof-server/internal/stats"
	"github.com/halloffame/hof-server/internal/views"
)

// Server owns the router and the handlers' collaborators.
type Server struct {
	cfg     *config.Config
	log     *logrus.Entry
	metrics *metrics.Metrics

	bans       *bans.Registry
	creators   *creators.Registry
	views      *views.Tracker
	favorites  *favorites.Tracker
	engine     *screenshots.Engine
	similarity *similarity.Engine
	stats      *stats.Reconciler
	blobs      blob.Store

	systemPassword string
	router         *gin.Engine
}

// Deps bundles the server's collaborators.
type Deps struct {
	Bans       *bans.Registry
	Creators   *creators.Registry
	Views      *views.Tracker
	Favorites  *favorites.Tracker
	Engine     *screenshots.Engine
	Similarity *similarity.Engine
	Stats      *stats.Reconciler
	Blobs      blob.Store
	Metrics    *metrics.Metrics
}

func NewServer(cfg *config.Config, deps Deps, log *logrus.Logger) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:            cfg,
		log:            log.WithField("component", "http"),
		metrics:        deps.Metrics,
		bans:           deps.Bans,
		creators:       deps.Creators,
		views:          deps.Views,
		favorites:      deps.Favorites,
		engine:         deps.Engine,
		similarity:     deps.Similarity,
		stats:          deps.Stats,
		blobs:          deps.Blobs,
		systemPassword: cfg.SystemPassword,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.metrics.Middleware(), s.accessLog())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", s.metrics.Handler())

	api := r.Group("/api/v1")
	api.Use(s.authGuard())
	{
		api.GET("/screenshots", s.listScreenshots)
		api.GET("/screenshots/weighted", s.getWeightedScreenshot)
		api.GET("/screenshots/:id", s.getScreenshot)
		api.POST("/screenshots", s.createScreenshot)
		api.DELETE("/screenshots/:id", s.deleteScreenshot)

		api.POST("/screenshots/:id/views", s.markViewed)
		api.POST("/screenshots/:id/favorites", s.addFavorite)
		api.DELETE("/screenshots/:id/favorites/mine", s.removeFavorite)
		api.POST("/screenshots/:id/reports", s.reportScreenshot)

		api.GET("/creators/:id", s.getCreator)
		api.GET("/creators/:id/stats", s.getCreatorStats)
		api.PUT("/creators/me", s.putCreatorMe)
		api.GET("/creators/:id/social/:platform", s.socialRedirect)
	}

	system := r.Group("/api/v1/system")
	system.Use(s.systemGuard())
	{
		system.POST("/screenshots/:id/merge", s.mergeScreenshots)
		system.POST("/screenshots/:id/approve", s.approveScreenshot)
		system.GET("/screenshots/:id/similar", s.findSimilar)
		system.POST("/bans", s.banCreator)
		system.POST("/stats/reconcile", s.reconcileStats)
	}

	return r
}

// Router exposes the handler tree. Test hook.
func (s *Server) Router() http.Handler {
	return s.router
}

// accessLog writes one debug line per request.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"request":  c.GetString(ctxRequestID),
		}).Debug("request handled")
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.HTTP.Address, s.cfg.HTTP.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", srv.Addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
