// Command recommender serves the Continue Watching, Because You Watched and
// For You surfaces over HTTP.
//
// Usage:
//
//	go run ./cmd/recommender [-config configs/development.yaml]
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/devdanny2024/wanzami-sub000/internal/recommend"
	"github.com/devdanny2024/wanzami-sub000/internal/recommend/cache"
	"github.com/devdanny2024/wanzami-sub000/internal/recommend/handler"
	"github.com/devdanny2024/wanzami-sub000/internal/recommend/router"
	"github.com/devdanny2024/wanzami-sub000/internal/store/memory"
	pgstore "github.com/devdanny2024/wanzami-sub000/internal/store/postgres"
	"github.com/devdanny2024/wanzami-sub000/internal/telemetry"
	"github.com/devdanny2024/wanzami-sub000/internal/viewer"
	"github.com/devdanny2024/wanzami-sub000/pkg/config"
	"github.com/devdanny2024/wanzami-sub000/pkg/health"
	"github.com/devdanny2024/wanzami-sub000/pkg/kafka"
	"github.com/devdanny2024/wanzami-sub000/pkg/logger"
	"github.com/devdanny2024/wanzami-sub000/pkg/metrics"
	"github.com/devdanny2024/wanzami-sub000/pkg/postgres"
	pkgredis "github.com/devdanny2024/wanzami-sub000/pkg/redis"
	"github.com/devdanny2024/wanzami-sub000/pkg/resilience"
)

// store is everything the recommender reads and writes.
type store interface {
	recommend.Store
	viewer.ProfileStore
	telemetry.EventAppender
	health.Pinger
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting recommendation service",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Backend,
		"telemetry_sink", cfg.Telemetry.Sink,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker()

	var st store
	switch cfg.Store.Driver {
	case "memory":
		mem, err := memory.Load(cfg.Store.FixturePath)
		if err != nil {
			slog.Error("failed to load fixtures", "path", cfg.Store.FixturePath, "error", err)
			os.Exit(1)
		}
		st = mem
		slog.Info("memory store loaded", "path", cfg.Store.FixturePath, "events", len(mem.Events()))
	default:
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := pgstore.New(db, resilience.NewBreaker("postgres", cfg.Breaker, m))
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("postgres store ready", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}
	checker.RegisterPinger("store", st, health.StatusDown)

	var backend cache.Backend = cache.NewMemoryBackend()
	if cfg.Cache.Backend == "redis" {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, using in-process cache", "error", err)
			checker.RegisterPinger("redis", nil, health.StatusDegraded)
		} else {
			defer redisClient.Close()
			backend = redisClient
			checker.RegisterPinger("redis", redisClient, health.StatusDegraded)
		}
	}
	slog.Info("surface cache ready", "ttl", cfg.Cache.TTL)

	aggregator := telemetry.NewAggregator()
	var publisher telemetry.Publisher
	switch cfg.Telemetry.Sink {
	case "store":
		publisher = telemetry.Tee(telemetry.NewStorePublisher(st), aggregator)
	default:
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.EngagementEvents)
		defer producer.Close()
		publisher = telemetry.Tee(telemetry.NewKafkaPublisher(producer), aggregator)
		checker.RegisterPinger("kafka", producer, health.StatusDegraded)
	}
	collector := telemetry.NewCollector(publisher, cfg.Telemetry.BufferSize, m)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("telemetry collector started", "sink", cfg.Telemetry.Sink)

	engine := recommend.NewEngine(cfg.Recommend, cfg.Cache.TTL, recommend.Deps{
		Store:       st,
		Cache:       backend,
		Impressions: collector,
		Metrics:     m,
	})

	routes := router.New(router.Options{
		Handler:        handler.New(engine),
		Exposures:      telemetry.NewHandler(aggregator, nil),
		Profiles:       st,
		Health:         checker,
		Metrics:        m,
		RateLimit:      cfg.RateLimit,
		CORS:           cfg.CORS,
		RequestTimeout: cfg.Server.WriteTimeout,
	})

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      routes,
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

	slog.Info("recommendation service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("recommendation service stopped")
}
