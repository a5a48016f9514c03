// Command telemetry consumes engagement events from Kafka, appends them to
// the postgres event log in batches and serves per-experiment exposure
// stats at GET /api/v1/experiments/exposures.
//
// Usage:
//
//	go run ./cmd/telemetry [-config configs/development.yaml] [-port 8081]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
	pgstore "github.com/devdanny2024/wanzami-sub000/internal/store/postgres"
	"github.com/devdanny2024/wanzami-sub000/internal/telemetry"
	"github.com/devdanny2024/wanzami-sub000/pkg/config"
	"github.com/devdanny2024/wanzami-sub000/pkg/health"
	"github.com/devdanny2024/wanzami-sub000/pkg/kafka"
	"github.com/devdanny2024/wanzami-sub000/pkg/logger"
	"github.com/devdanny2024/wanzami-sub000/pkg/metrics"
	"github.com/devdanny2024/wanzami-sub000/pkg/middleware"
	"github.com/devdanny2024/wanzami-sub000/pkg/postgres"
	"github.com/devdanny2024/wanzami-sub000/pkg/resilience"
)

const snapshotInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	port := flag.Int("port", 0, "HTTP port (overrides server.port)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting telemetry service", "port", cfg.Server.Port, "topic", cfg.Kafka.Topics.EngagementEvents)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := pgstore.New(db, resilience.NewBreaker("postgres", cfg.Breaker, m))
	if err := store.Migrate(ctx); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	writer := telemetry.NewBatchWriter(store, cfg.Telemetry.BatchSize, cfg.Telemetry.FlushInterval, m)
	writer.Start(ctx)

	aggregator := telemetry.NewAggregator()
	snapshots := telemetry.NewSnapshotStore(db)
	if latest, err := snapshots.LatestSnapshot(ctx); err != nil {
		slog.Warn("could not load last exposure snapshot", "error", err)
	} else if latest != nil {
		slog.Info("last exposure snapshot", "total_impressions", latest.TotalImpressions, "since", latest.Since)
	}
	snapshots.StartPeriodicSave(ctx, aggregator, snapshotInterval)

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.EngagementEvents,
		telemetry.HandleEvent(aggregator, func(ctx context.Context, ev catalog.EngagementEvent) {
			writer.Add(ctx, ev)
		}),
	)
	defer consumer.Close()
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("consumer error", "error", err)
		}
	}()

	checker := health.NewChecker()
	checker.RegisterPinger("postgres", db, health.StatusDown)
	checker.RegisterPinger("kafka", consumer, health.StatusDown)

	exposures := telemetry.NewHandler(aggregator, snapshots)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.AccessLog)
	r.Use(middleware.Metrics(m))
	r.Get("/api/v1/experiments/exposures", exposures.Stats)
	r.Get("/api/v1/experiments/exposures/history", exposures.History)
	r.Get("/health/live", checker.LiveHandler())
	r.Get("/health/ready", checker.ReadyHandler())

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port + 1)
		defer shutdownMetrics(context.Background())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("telemetry service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	writer.Close()
	slog.Info("telemetry service stopped")
}
