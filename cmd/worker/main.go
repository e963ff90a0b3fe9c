// Package main provides the entry point for the book enrichment worker. The
// worker consumes queued book requests, enriches them from the catalog and
// writes them to the book store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixir/book-request-service/internal/catalog"
	"github.com/helixir/book-request-service/internal/config"
	"github.com/helixir/book-request-service/internal/enrichment"
	"github.com/helixir/book-request-service/internal/observability"
	"github.com/helixir/book-request-service/internal/pipeline"
	"github.com/helixir/book-request-service/internal/queue"
	"github.com/helixir/book-request-service/internal/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("book-request-service worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	store, err := repository.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	openLibrary := catalog.New(catalog.Config{
		BaseURL:     cfg.Catalog.BaseURL,
		Timeout:     cfg.Catalog.Timeout,
		RateLimit:   cfg.Catalog.RateLimit,
		BurstSize:   cfg.Catalog.BurstSize,
		MaxRetries:  cfg.Catalog.MaxRetries,
		RetryDelay:  cfg.Catalog.RetryDelay,
		UserAgent:   cfg.Catalog.UserAgent,
		SearchLimit: cfg.Catalog.SearchLimit,
	})
	logger.Info().
		Str("base_url", cfg.Catalog.BaseURL).
		Float64("rate_limit", cfg.Catalog.RateLimit).
		Msg("catalog client configured")

	resolver := enrichment.NewResolver(openLibrary, logger, metrics)
	processor := pipeline.NewProcessor(resolver, store.Books, cfg.Kafka.Workers, metrics, logger)
	consumer := queue.NewConsumer(cfg.Kafka, processor, metrics, logger)

	// Metrics and liveness share one listener on the metrics port.
	var metricsServer *http.Server
	if metrics != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      mux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Str("group_id", cfg.Kafka.GroupID).
			Int("batch_size", cfg.Kafka.BatchSize).
			Int("workers", cfg.Kafka.Workers).
			Msg("consumer starting")
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("consumer error: %w", err)
			return
		}
		errCh <- nil
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	logger.Info().Str("store", store.Books.Backend()).Msg("book-request-service worker is ready")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
		// Wait for the consumer to finish its in-flight batch.
		runErr = <-errCh
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error().Err(runErr).Msg("worker error")
		}
	}
	stop()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("book-request-service worker shutdown complete")
	return runErr
}
