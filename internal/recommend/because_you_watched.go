package recommend

import (
	"context"
	"time"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
	"github.com/devdanny2024/wanzami-sub000/internal/recommend/ranker"
	apperrors "github.com/devdanny2024/wanzami-sub000/pkg/errors"
	"github.com/devdanny2024/wanzami-sub000/pkg/tracing"
)

type BecauseYouWatched struct {
	Items      []catalog.Title `json:"items"`
	Anchors    []string        `json:"anchors"`
	HasHistory bool            `json:"hasHistory"`
}

// BecauseYouWatched expands recent strong-interest anchors through genre
// overlap and the similarity graph. Profiles without any finished play get
// an empty result with HasHistory false. The bool reports a cache hit.
func (e *Engine) BecauseYouWatched(ctx context.Context, p catalog.Profile) (*BecauseYouWatched, bool, error) {
	start := time.Now()
	ctx, span, done := e.begin(ctx, SurfaceBecauseYouWatched, p.ID)
	defer done()

	out, hit, err := e.becauseYouWatched(ctx, p)
	span.RecordError(err)
	span.SetAttr("cache_hit", hit)
	items := 0
	if out != nil {
		items = len(out.Items)
	}
	e.metrics.ObserveSurface(SurfaceBecauseYouWatched, statusOf(err), hit, time.Since(start), items)
	return out, hit, err
}

func (e *Engine) becauseYouWatched(ctx context.Context, p catalog.Profile) (*BecauseYouWatched, bool, error) {
	has, err := e.hasPlayback(ctx, p)
	if err != nil {
		return nil, false, err
	}
	if !has {
		return &BecauseYouWatched{Items: []catalog.Title{}, Anchors: []string{}, HasHistory: false}, false, nil
	}
	out, hit, err := e.byw.GetOrCompute(ctx, p.ID, func(ctx context.Context) (BecauseYouWatched, error) {
		return e.computeBecauseYouWatched(ctx, p)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, hit, nil
}

func (e *Engine) computeBecauseYouWatched(ctx context.Context, p catalog.Profile) (BecauseYouWatched, error) {
	cfg := e.cfg.BecauseYouWatched
	elig := p.Eligibility()

	anchors, err := e.anchors(ctx, p, cfg.AnchorLimit, cfg.RecentViewsLimit)
	if err != nil {
		return BecauseYouWatched{}, err
	}

	x, err := e.expand(ctx, p, anchors, cfg.SimilarityLimit, len(anchors) == 0)
	if err != nil {
		return BecauseYouWatched{}, err
	}

	var q catalog.TitleQuery
	if len(anchors) == 0 {
		// Preference genres alone: no anchors, no similarity expansion.
		if len(x.prefGenres) == 0 {
			return BecauseYouWatched{Items: []catalog.Title{}, Anchors: []string{}, HasHistory: true}, nil
		}
		q = catalog.TitleQuery{Genres: x.prefGenres, Eligibility: &elig, NewestFirst: true, Limit: cfg.PoolLimit}
	} else {
		if len(x.genres) == 0 && len(x.similar) == 0 {
			return BecauseYouWatched{Items: []catalog.Title{}, Anchors: anchors, HasHistory: true}, nil
		}
		q = catalog.TitleQuery{
			IDs:         x.similar,
			Genres:      x.genres,
			ExcludeIDs:  anchors,
			Eligibility: &elig,
			NewestFirst: true,
			Limit:       cfg.PoolLimit,
		}
	}

	var pool []catalog.Title
	err = tracing.Trace(ctx, "titles.pool", func(ctx context.Context) error {
		var err error
		pool, err = e.store.FindTitles(ctx, q)
		return err
	})
	if err != nil {
		return BecauseYouWatched{}, apperrors.Upstream("reading candidate pool", err)
	}
	e.metrics.ObservePool(SurfaceBecauseYouWatched, "anchor_expansion", len(pool))

	popular := toSet(x.popular)
	recency := ranker.NormalizedReleaseRecency(pool)
	candidates := make([]ranker.Candidate, 0, len(pool))
	for _, t := range pool {
		if !elig.Allows(t) {
			continue
		}
		_, pop := popular[t.ID]
		candidates = append(candidates, ranker.Candidate{Title: t, Popular: pop, Recency: recency[t.ID]})
	}
	ranked := ranker.Rank(candidates, ranker.BecauseYouWatched, cfg.ResultLimit)
	return BecauseYouWatched{
		Items:      ranker.Titles(ranked),
		Anchors:    anchors,
		HasHistory: true,
	}, nil
}
