// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Cache, Recommend, Telemetry, etc.).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	Recommend RecommendConfig `yaml:"recommend"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	CORS      CORSConfig      `yaml:"cors"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gt=0,lt=65536"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	EngagementEvents string `yaml:"engagementEvents"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// CacheConfig selects the surface cache backend. TTL bounds how stale a
// cached surface may be: new engagement events never invalidate entries.
type CacheConfig struct {
	Backend string        `yaml:"backend" validate:"oneof=memory redis"`
	TTL     time.Duration `yaml:"ttl" validate:"gt=0"`
}

// StoreConfig selects where the read-only recommendation inputs come from.
type StoreConfig struct {
	Driver      string `yaml:"driver" validate:"oneof=postgres memory"`
	FixturePath string `yaml:"fixturePath"`
}

// RecommendConfig holds the tunables of the three surfaces.
type RecommendConfig struct {
	ContinueWatching  ContinueWatchingConfig  `yaml:"continueWatching"`
	BecauseYouWatched BecauseYouWatchedConfig `yaml:"becauseYouWatched"`
	ForYou            ForYouConfig            `yaml:"forYou"`
	// UpstreamTimeout bounds the store reads of one surface request. Zero
	// leaves the deadline to the store clients.
	UpstreamTimeout time.Duration `yaml:"upstreamTimeout"`
}

// ContinueWatchingConfig controls the in-progress scanner.
type ContinueWatchingConfig struct {
	EventWindow int `yaml:"eventWindow" validate:"gt=0"`
	// FinishedThreshold drops titles whose best completion is at or above
	// it. Zero keeps finished titles.
	FinishedThreshold float64 `yaml:"finishedThreshold" validate:"gte=0,lte=1"`
	// MaxItems caps the response length. Zero means uncapped.
	MaxItems int `yaml:"maxItems" validate:"gte=0"`
}

// BecauseYouWatchedConfig controls anchor expansion.
type BecauseYouWatchedConfig struct {
	AnchorLimit      int `yaml:"anchorLimit" validate:"gt=0"`
	RecentViewsLimit int `yaml:"recentViewsLimit" validate:"gt=0"`
	SimilarityLimit  int `yaml:"similarityLimit" validate:"gt=0"`
	PoolLimit        int `yaml:"poolLimit" validate:"gt=0"`
	ResultLimit      int `yaml:"resultLimit" validate:"gt=0"`
}

// ForYouConfig controls the multi-source ranker and its experiment.
type ForYouConfig struct {
	Experiment        string   `yaml:"experiment" validate:"required"`
	Variants          []string `yaml:"variants" validate:"min=1,dive,required"`
	AnchorLimit       int      `yaml:"anchorLimit" validate:"gt=0"`
	RecentViewsLimit  int      `yaml:"recentViewsLimit" validate:"gt=0"`
	SimilarityLimit   int      `yaml:"similarityLimit" validate:"gt=0"`
	GenrePoolLimit    int      `yaml:"genrePoolLimit" validate:"gt=0"`
	FallbackPoolLimit int      `yaml:"fallbackPoolLimit" validate:"gt=0"`
	ResultLimit       int      `yaml:"resultLimit" validate:"gt=0"`
}

// TelemetryConfig controls IMPRESSION event delivery.
type TelemetryConfig struct {
	Sink          string        `yaml:"sink" validate:"oneof=kafka store"`
	BufferSize    int           `yaml:"bufferSize" validate:"gt=0"`
	BatchSize     int           `yaml:"batchSize" validate:"gt=0"`
	FlushInterval time.Duration `yaml:"flushInterval" validate:"gt=0"`
}

// RateLimitConfig controls the per-viewer request limit.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// BreakerConfig controls the circuit breaker around store reads.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
	HalfOpenRequests uint32        `yaml:"halfOpenRequests"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies a local .env file and
// environment-variable overrides, and validates the result. Missing values
// fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "wanzami",
			User:            "wanzami",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "wanzami-telemetry",
			Topics: KafkaTopics{
				EngagementEvents: "engagement-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     120 * time.Second,
		},
		Store: StoreConfig{
			Driver: "postgres",
		},
		Recommend: RecommendConfig{
			ContinueWatching: ContinueWatchingConfig{
				EventWindow: 200,
			},
			BecauseYouWatched: BecauseYouWatchedConfig{
				AnchorLimit:      20,
				RecentViewsLimit: 10,
				SimilarityLimit:  50,
				PoolLimit:        40,
				ResultLimit:      30,
			},
			ForYou: ForYouConfig{
				Experiment:        "foryou_v1",
				Variants:          []string{"control", "originals_boost"},
				AnchorLimit:       20,
				RecentViewsLimit:  20,
				SimilarityLimit:   100,
				GenrePoolLimit:    30,
				FallbackPoolLimit: 20,
				ResultLimit:       30,
			},
		},
		Telemetry: TelemetryConfig{
			Sink:          "kafka",
			BufferSize:    10000,
			BatchSize:     100,
			FlushInterval: 2 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 120,
			Window:   time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			HalfOpenRequests: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}
