package recommend

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
	"github.com/devdanny2024/wanzami-sub000/internal/recommend/ranker"
	"github.com/devdanny2024/wanzami-sub000/internal/telemetry"
	apperrors "github.com/devdanny2024/wanzami-sub000/pkg/errors"
	"github.com/devdanny2024/wanzami-sub000/pkg/logger"
	"github.com/devdanny2024/wanzami-sub000/pkg/tracing"
)

// ForYouPayload is the cached part of a For You response. Experiment and
// variant are stamped per request.
type ForYouPayload struct {
	Items   []catalog.Title `json:"items"`
	Anchors []string        `json:"anchors"`
}

type ForYou struct {
	Items      []catalog.Title `json:"items"`
	Anchors    []string        `json:"anchors"`
	Experiment string          `json:"experiment"`
	Variant    string          `json:"variant"`
}

// ForYou merges the anchor-expansion, popularity and newest-title pools,
// stamps the profile's experiment variant and records an impression on
// both cache hits and misses. The bool reports a cache hit.
func (e *Engine) ForYou(ctx context.Context, p catalog.Profile) (*ForYou, bool, error) {
	start := time.Now()
	cfg := e.cfg.ForYou
	variant := AssignVariant(cfg.Experiment, p.ID, cfg.Variants)

	ctx, span, done := e.begin(ctx, SurfaceForYou, p.ID)
	defer done()
	span.SetAttr("variant", variant)

	payload, hit, err := e.forYou.GetOrCompute(ctx, p.ID, func(ctx context.Context) (ForYouPayload, error) {
		return e.computeForYou(ctx, p)
	})
	span.RecordError(err)
	span.SetAttr("cache_hit", hit)
	e.metrics.ObserveSurface(SurfaceForYou, statusOf(err), hit, time.Since(start), len(payload.Items))
	if err != nil {
		return nil, false, err
	}

	if e.impressions != nil {
		e.impressions.TrackImpression(ctx, telemetry.Impression{
			ProfileID:   p.ID,
			UserID:      p.UserID,
			Country:     p.Country,
			Surface:     SurfaceForYou,
			Experiment:  cfg.Experiment,
			Variant:     variant,
			Cache:       hit,
			AnchorCount: len(payload.Anchors),
			ItemCount:   len(payload.Items),
			RequestID:   logger.RequestID(ctx),
			At:          e.now(),
		})
	}
	return &ForYou{
		Items:      payload.Items,
		Anchors:    payload.Anchors,
		Experiment: cfg.Experiment,
		Variant:    variant,
	}, hit, nil
}

func (e *Engine) computeForYou(ctx context.Context, p catalog.Profile) (ForYouPayload, error) {
	cfg := e.cfg.ForYou
	elig := p.Eligibility()

	anchors, err := e.anchors(ctx, p, cfg.AnchorLimit, cfg.RecentViewsLimit)
	if err != nil {
		return ForYouPayload{}, err
	}
	x, err := e.expand(ctx, p, anchors, cfg.SimilarityLimit, true)
	if err != nil {
		return ForYouPayload{}, err
	}
	genres := dedupe(append(append(append([]string{}, x.genres...), x.prefGenres...), p.PreferredGenres()...), 0)

	var signalPool, popularPool []catalog.Title
	g, gctx := errgroup.WithContext(ctx)
	if len(genres) > 0 || len(x.similar) > 0 {
		g.Go(func() error {
			return tracing.Trace(gctx, "titles.signal_pool", func(ctx context.Context) error {
				var err error
				signalPool, err = e.store.FindTitles(ctx, catalog.TitleQuery{
					IDs:         x.similar,
					Genres:      genres,
					ExcludeIDs:  anchors,
					Eligibility: &elig,
					NewestFirst: true,
					Limit:       cfg.GenrePoolLimit,
				})
				return apperrors.Upstream("reading signal pool", err)
			})
		})
	}
	if len(x.popular) > 0 {
		g.Go(func() error {
			return tracing.Trace(gctx, "titles.popular_pool", func(ctx context.Context) error {
				var err error
				popularPool, err = e.store.FindTitles(ctx, catalog.TitleQuery{
					IDs:         x.popular,
					ExcludeIDs:  anchors,
					Eligibility: &elig,
				})
				return apperrors.Upstream("reading popularity pool", err)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return ForYouPayload{}, err
	}

	chosen := make([]string, 0, len(anchors)+len(signalPool)+len(popularPool))
	chosen = append(chosen, anchors...)
	for _, t := range signalPool {
		chosen = append(chosen, t.ID)
	}
	for _, t := range popularPool {
		chosen = append(chosen, t.ID)
	}
	var freshPool []catalog.Title
	err = tracing.Trace(ctx, "titles.fresh_pool", func(ctx context.Context) error {
		var err error
		freshPool, err = e.store.FindTitles(ctx, catalog.TitleQuery{
			MatchAll:    true,
			ExcludeIDs:  chosen,
			Eligibility: &elig,
			NewestFirst: true,
			Limit:       cfg.FallbackPoolLimit,
		})
		return err
	})
	if err != nil {
		return ForYouPayload{}, apperrors.Upstream("reading fresh pool", err)
	}
	e.metrics.ObservePool(SurfaceForYou, "signal", len(signalPool))
	e.metrics.ObservePool(SurfaceForYou, "popularity", len(popularPool))
	e.metrics.ObservePool(SurfaceForYou, "fresh", len(freshPool))

	similar := toSet(x.similar)
	popular := toSet(x.popular)
	now := e.now()
	seen := make(map[string]struct{})
	var candidates []ranker.Candidate
	for _, pool := range [][]catalog.Title{signalPool, popularPool, freshPool} {
		for _, t := range pool {
			if _, dup := seen[t.ID]; dup || !elig.Allows(t) {
				continue
			}
			seen[t.ID] = struct{}{}
			_, sim := similar[t.ID]
			_, pop := popular[t.ID]
			candidates = append(candidates, ranker.Candidate{
				Title:   t,
				Similar: sim,
				Popular: pop,
				Recency: ranker.RecencyDecay(t.ReleaseDate, now),
			})
		}
	}
	ranked := ranker.Rank(candidates, ranker.ForYou, cfg.ResultLimit)
	return ForYouPayload{Items: ranker.Titles(ranked), Anchors: anchors}, nil
}
