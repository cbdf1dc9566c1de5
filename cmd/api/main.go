package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxintel/callgate/config"
	"github.com/voxintel/callgate/gateway"
	"github.com/voxintel/callgate/gateway/ratelimit"
	"github.com/voxintel/callgate/gateway/redis"
	"github.com/voxintel/callgate/gateway/replay"
	"github.com/voxintel/callgate/internal/http/chi"
	"github.com/voxintel/callgate/metrics"
	"github.com/voxintel/callgate/tenants"
)

const TIMEOUT = 30 * time.Second

/* api wires the gateway together: configuration, the tenant registry,
 * the Redis sink, the metrics exporter and the ingestion pipeline, then
 * serves provider callbacks until it receives a shutdown signal.
 *
 * Importing only flows downward: this binary imports the gateway
 * packages, which import nothing above themselves.
 */

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "callgate").Logger()

	cfg, err := config.GetConfig()
	if err != nil {
		logger.Error().Err(err).Msg("loading configuration")
		return
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	var registryOpts []tenants.RegistryOption
	if cfg.LegacyTenantID != "" && cfg.LegacyWebhookSecret != "" {
		registryOpts = append(registryOpts, tenants.WithLegacySecret(cfg.LegacyTenantID, cfg.LegacyWebhookSecret))
	}
	registry := tenants.NewRegistry(registryOpts...)
	if err := registry.Load(cfg.GetTenantsFile()); err != nil {
		logger.Error().Err(err).Str("file", cfg.GetTenantsFile()).Msg("loading tenants")
		return
	}
	logger.Info().Int("tenants", len(registry.List())).Msg("tenant registry loaded")

	sink, err := redis.NewStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.GetEventTTL())
	if err != nil {
		logger.Error().Err(err).Msg("connecting to redis")
		return
	}
	defer sink.Close()

	exporter, err := metrics.NewExporter()
	if err != nil {
		logger.Error().Err(err).Msg("initializing metrics")
		return
	}
	defer exporter.Shutdown(ctx)

	guard := replay.NewGuard()
	go guard.Run(ctx, cfg.GetSweepInterval())

	pipeline := gateway.NewPipeline(
		ratelimit.NewLimiter(cfg.GetRateLimitWindow(), cfg.GetRateLimitCeiling()),
		ratelimit.NewFailureTracker(cfg.GetFailureWindow(), cfg.GetFailureThreshold()),
		guard,
		registry, registry, sink, logger,
		gateway.WithObserver(exporter),
		gateway.WithAllowUnsigned(cfg.AllowUnsignedWebhooks),
	)
	if cfg.AllowUnsignedWebhooks {
		logger.Warn().Msg("unsigned webhooks are allowed; do not run this way in production")
	}

	r := chi.Handlers(ctx, pipeline, exporter.Handler())
	http.Handle("/", r)
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.GetPort(),
		Handler:      http.DefaultServeMux,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	logger.Info().Str("port", cfg.GetPort()).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("serving")
		return
	}
	err = <-errShutdown
	if err != nil {
		logger.Error().Err(err).Msg("shutting down")
		return
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("forcing closing the server")
	}
}
