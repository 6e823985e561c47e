// Package metrics exposes the Prometheus instrumentation of the
// server.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the server's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestDuration *prometheus.HistogramVec

	ScreenshotsIngested prometheus.Counter
	ScreenshotsDeleted  prometheus.Counter
	ViewsRecorded       prometheus.Counter
	FavoritesAdded      prometheus.Counter
	FavoritesRemoved    prometheus.Counter
	WeightedDraws       *prometheus.CounterVec
	BansIssued          prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hof",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		ScreenshotsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hof",
			Name:      "screenshots_ingested_total",
			Help:      "Screenshots accepted through the upload pipeline.",
		}),
		ScreenshotsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hof",
			Name:      "screenshots_deleted_total",
			Help:      "Screenshots removed with their blobs.",
		}),
		ViewsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hof",
			Name:      "views_recorded_total",
			Help:      "View marks received, first-time or repeat.",
		}),
		FavoritesAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hof",
			Name:      "favorites_added_total",
			Help:      "Favorites created.",
		}),
		FavoritesRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hof",
			Name:      "favorites_removed_total",
			Help:      "Favorites removed.",
		}),
		WeightedDraws: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hof",
			Name:      "weighted_draws_total",
			Help:      "Weighted selector draws by winning algorithm.",
		}, []string{"algorithm"}),
		BansIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hof",
			Name:      "bans_issued_total",
			Help:      "Ban rows written.",
		}),
	}
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// Middleware observes per-request latency under the route template, so
// parameterised paths collapse into one series.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
