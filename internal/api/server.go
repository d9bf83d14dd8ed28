// Package api serves the read side of the service over HTTP: the latest
// statuses snapshot, its live stream, and per-station map thumbnails.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/bixbrother/backend-go/internal/broadcast"
	"github.com/bixbrother/backend-go/internal/station"
)

// Snapshots is the read side of the broadcaster.
type Snapshots interface {
	Latest() *broadcast.Snapshot
	Watch() (*broadcast.Snapshot, <-chan struct{})
}

type Locator interface {
	Locate(externalID uuid.UUID) (station.Location, bool)
}

type Thumbnails interface {
	Thumbnail(ctx context.Context, lat, lon float64) ([]byte, error)
}

// ServerOption configures the API server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
	gatherer    prometheus.Gatherer
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetrics exposes the gatherer's metrics at /metrics.
func WithMetrics(gatherer prometheus.Gatherer) ServerOption {
	return func(cfg *serverConfig) {
		cfg.gatherer = gatherer
	}
}

// NewServer creates the router. Handlers never touch the station registry:
// statuses come from published snapshots and thumbnails from the immutable
// locator.
func NewServer(snapshots Snapshots, locator Locator, thumbnails Thumbnails, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	h := &handlers{
		snapshots:  snapshots,
		locator:    locator,
		thumbnails: thumbnails,
	}

	r.Get("/health", h.health)
	if cfg.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/statuses", h.statuses)
		r.Get("/statuses/stream", h.stream)
		r.Get("/stations/{externalID}/map_thumbnail128.png", h.thumbnail)
	})

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
