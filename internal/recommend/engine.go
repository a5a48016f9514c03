// Package recommend computes the three personalised surfaces: Continue
// Watching, Because You Watched and For You.
package recommend

import (
	"context"
	"log/slog"
	"time"

	"github.com/devdanny2024/wanzami-sub000/internal/recommend/cache"
	"github.com/devdanny2024/wanzami-sub000/internal/telemetry"
	"github.com/devdanny2024/wanzami-sub000/pkg/config"
	"github.com/devdanny2024/wanzami-sub000/pkg/logger"
	"github.com/devdanny2024/wanzami-sub000/pkg/metrics"
	"github.com/devdanny2024/wanzami-sub000/pkg/tracing"
)

// Surface names used for metrics, impressions and cache keys.
const (
	SurfaceContinueWatching  = "continue_watching"
	SurfaceBecauseYouWatched = "because_you_watched"
	SurfaceForYou            = "for_you"

	cacheForYou            = "foryou"
	cacheBecauseYouWatched = "becauseyouwatched"
)

// ImpressionTracker receives exposure events. Implementations must not
// block the caller.
type ImpressionTracker interface {
	TrackImpression(ctx context.Context, imp telemetry.Impression)
}

// Deps are the collaborators of an Engine. Impressions and Metrics may be
// nil.
type Deps struct {
	Store       Store
	Cache       cache.Backend
	Impressions ImpressionTracker
	Metrics     *metrics.Metrics
}

type Engine struct {
	store       Store
	cfg         config.RecommendConfig
	forYou      *cache.Cache[ForYouPayload]
	byw         *cache.Cache[BecauseYouWatched]
	impressions ImpressionTracker
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine builds an engine whose cached surfaces live for ttl.
func NewEngine(cfg config.RecommendConfig, ttl time.Duration, deps Deps) *Engine {
	backend := deps.Cache
	if backend == nil {
		backend = cache.NewMemoryBackend()
	}
	return &Engine{
		store:       deps.Store,
		cfg:         cfg,
		forYou:      cache.New[ForYouPayload](backend, cacheForYou, ttl, deps.Metrics).WithComputeTimeout(cfg.UpstreamTimeout),
		byw:         cache.New[BecauseYouWatched](backend, cacheBecauseYouWatched, ttl, deps.Metrics).WithComputeTimeout(cfg.UpstreamTimeout),
		impressions: deps.Impressions,
		metrics:     deps.Metrics,
		logger:      slog.Default().With("component", "recommend-engine"),
		now:         time.Now,
	}
}

// WithClock replaces the time source used for recency decay, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CacheStats reports hit/miss counters of the cached surfaces.
func (e *Engine) CacheStats() []cache.Stats {
	return []cache.Stats{e.forYou.Stats(), e.byw.Stats()}
}

// begin applies the upstream deadline and opens the root span of a surface
// computation. The returned func ends the span, logs it and cancels.
func (e *Engine) begin(ctx context.Context, surface, profileID string) (context.Context, *tracing.Span, func()) {
	cancel := context.CancelFunc(func() {})
	if e.cfg.UpstreamTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.cfg.UpstreamTimeout)
	}
	ctx, span := tracing.StartSpan(ctx, "recommend."+surface, logger.RequestID(ctx))
	span.SetAttr("profile_id", profileID)
	return ctx, span, func() {
		span.End()
		span.Log(ctx, logger.FromContext(ctx))
		cancel()
	}
}
