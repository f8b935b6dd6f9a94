package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dunamismax/kronos/internal/config"
	"github.com/dunamismax/kronos/internal/imageprep"
	"github.com/dunamismax/kronos/internal/storage"
	"github.com/dunamismax/kronos/internal/store"
	"github.com/dunamismax/kronos/internal/telemetry"
	"github.com/dunamismax/kronos/internal/webhook"
	"github.com/dunamismax/kronos/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.Log, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
}

// run blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	if err := imageprep.Startup(); err != nil {
		return fmt.Errorf("image runtime startup: %w", err)
	}
	defer imageprep.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "kronos-worker", cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("storage client setup: %w", err)
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Warn().Err(err).Str("bucket", storageClient.Bucket()).Msg("bucket check failed")
	}

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("job store setup: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("job store close failed")
		}
	}()

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, storageClient, webhookClient, jobStore, jobStore)
	if err != nil {
		return fmt.Errorf("worker setup: %w", err)
	}

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Msg("starting worker")

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
