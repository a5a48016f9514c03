package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides reads WZ_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	envInt("WZ_SERVER_PORT", &cfg.Server.Port)
	envString("WZ_POSTGRES_HOST", &cfg.Postgres.Host)
	envInt("WZ_POSTGRES_PORT", &cfg.Postgres.Port)
	envString("WZ_POSTGRES_DATABASE", &cfg.Postgres.Database)
	envString("WZ_POSTGRES_USER", &cfg.Postgres.User)
	envString("WZ_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	envString("WZ_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("WZ_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	envString("WZ_KAFKA_TOPIC_ENGAGEMENT_EVENTS", &cfg.Kafka.Topics.EngagementEvents)
	envString("WZ_REDIS_ADDR", &cfg.Redis.Addr)
	envString("WZ_REDIS_PASSWORD", &cfg.Redis.Password)
	envString("WZ_CACHE_BACKEND", &cfg.Cache.Backend)
	envDuration("WZ_CACHE_TTL", &cfg.Cache.TTL)
	envString("WZ_STORE_DRIVER", &cfg.Store.Driver)
	envString("WZ_STORE_FIXTURE_PATH", &cfg.Store.FixturePath)
	envString("WZ_TELEMETRY_SINK", &cfg.Telemetry.Sink)
	envDuration("WZ_UPSTREAM_TIMEOUT", &cfg.Recommend.UpstreamTimeout)
	if v := os.Getenv("WZ_CONTINUE_WATCHING_FINISHED_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recommend.ContinueWatching.FinishedThreshold = f
		}
	}
	envString("WZ_FORYOU_EXPERIMENT", &cfg.Recommend.ForYou.Experiment)
	if v := os.Getenv("WZ_FORYOU_VARIANTS"); v != "" {
		cfg.Recommend.ForYou.Variants = strings.Split(v, ",")
	}
	envString("WZ_LOGGING_LEVEL", &cfg.Logging.Level)
	envString("WZ_LOGGING_FORMAT", &cfg.Logging.Format)
	envInt("WZ_METRICS_PORT", &cfg.Metrics.Port)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
