package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/bixbrother/backend-go/internal/api"
	"github.com/bixbrother/backend-go/internal/broadcast"
	"github.com/bixbrother/backend-go/internal/cache"
	"github.com/bixbrother/backend-go/internal/config"
	"github.com/bixbrother/backend-go/internal/gbfs"
	"github.com/bixbrother/backend-go/internal/metrics"
	"github.com/bixbrother/backend-go/internal/notify"
	"github.com/bixbrother/backend-go/internal/poller"
	"github.com/bixbrother/backend-go/internal/station"
	"github.com/bixbrother/backend-go/pkg/http/client"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverIdleTimeout      = 60 * time.Second
	startupTimeout         = time.Minute
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the status server",
		Long: `Start polling the GBFS feed and serving statuses and thumbnails.

GOOGLE_APPLICATION_CREDENTIALS must point to a Firebase service account key.
Every setting can also be given as an upper-case environment variable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	cmd.Flags().String("address", ":8000", "Address to listen on")
	cmd.Flags().String("feed-base-url", "https://gbfs.velobixi.com/gbfs/fr", "GBFS feed root URL")
	cmd.Flags().Duration("poll-interval", poller.DefaultInterval, "Time between two feed polls")
	cmd.Flags().String("feed-error-policy", "fatal", "What a failed feed poll does: fatal or retry")
	cmd.Flags().String("thumbnail-dir", "./thumbnails", "Directory holding rendered thumbnails")

	for key, flag := range map[string]string{
		config.KeyAddress:         "address",
		config.KeyFeedBaseURL:     "feed-base-url",
		config.KeyPollInterval:    "poll-interval",
		config.KeyFeedErrorPolicy: "feed-error-policy",
		config.KeyThumbnailDir:    "thumbnail-dir",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			log.Fatal().Err(err).Str("flag", flag).Msg("Failed to bind flag")
		}
	}

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg.InitializeLogging()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	sender, err := notify.NewFirebaseSender(startupCtx, cfg.CredentialsFile, cfg.FCMProjectID)
	if err != nil {
		return fmt.Errorf("initializing FCM: %w", err)
	}

	renderer := cache.NewStaticMapRenderer(cfg.Cache.RenderBinary, cfg.Cache.CropBinary, cfg.Cache.RenderZoom)
	if err := renderer.Check(startupCtx); err != nil {
		return fmt.Errorf("checking thumbnail tools: %w", err)
	}

	deps := dependencies{
		sender:   sender,
		renderer: renderer,
	}
	if cfg.Cache.StationListCacheEnabled() {
		s3Client, err := cache.NewS3Client(startupCtx, cfg.Cache.S3Endpoint)
		if err != nil {
			return fmt.Errorf("creating S3 client: %w", err)
		}
		deps.stationCache = cache.NewS3StationCache(s3Client, cfg.Cache.StationListBucket, cfg.Cache.GetStationListTTL())
	}

	svc, err := newService(startupCtx, cfg, deps)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Address, err)
	}

	return svc.run(ctx, listener)
}

// dependencies are the outside-world clients the service is built on.
type dependencies struct {
	sender       notify.Sender
	renderer     cache.Renderer
	stationCache station.InformationCache
}

type service struct {
	poller *poller.Poller
	router http.Handler
}

// newService loads the station list and wires every component.
func newService(ctx context.Context, cfg *config.Config, deps dependencies) (*service, error) {
	policy, err := poller.ParsePolicy(cfg.FeedErrorPolicy)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	feed := gbfs.NewFeed(client.New(client.Options{
		BaseURL: cfg.FeedBaseURL,
		Timeout: cfg.HTTPTimeout,
	}))

	infos, err := station.NewLoader(feed, deps.stationCache).Load(ctx)
	if err != nil {
		return nil, err
	}

	stations := station.NewRegistryFromInformation(infos)
	locator := station.NewLocator(infos)
	log.Info().
		Int("station_count", stations.Len()).
		Int("thumbnail_locations", locator.Len()).
		Msg("Built station registry")

	thumbnails, err := cache.NewThumbnailCache(cfg.Cache.ThumbnailDir, deps.renderer,
		cache.WithMemoryTier(cfg.Cache.GetThumbnailMemorySize()),
		cache.WithThumbnailMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	dispatcher := notify.NewDispatcher(deps.sender,
		notify.WithConcurrency(cfg.NotifyConcurrency),
		notify.WithMaxBackoff(cfg.NotifyMaxBackoff),
		notify.WithMetrics(m),
	)

	broadcaster := broadcast.New()
	p := poller.New(feed, stations, broadcaster, dispatcher,
		poller.WithInterval(cfg.PollInterval),
		poller.WithPolicy(policy),
		poller.WithMetrics(m),
	)

	router := api.NewServer(broadcaster, locator, thumbnails,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			api.LoggingMiddleware,
		),
		api.WithMetrics(registry),
	)

	return &service{poller: p, router: router}, nil
}

// run serves HTTP and polls until ctx is done or either side fails. A poll
// failure shuts the HTTP server down and is returned.
func (s *service) run(ctx context.Context, listener net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	// Requests inherit gctx so open status streams end on shutdown.
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: serverReadTimeout,
		IdleTimeout:       serverIdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return gctx
		},
	}

	g.Go(func() error {
		log.Info().Str("address", listener.Addr().String()).Msg("Server listening")
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving HTTP: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.poller.Run(gctx); err != nil {
			log.Error().Err(err).Msg("Poll loop failed")
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server shutdown complete")
		return nil
	})

	return g.Wait()
}
