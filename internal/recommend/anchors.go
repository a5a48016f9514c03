package recommend

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
	apperrors "github.com/devdanny2024/wanzami-sub000/pkg/errors"
	"github.com/devdanny2024/wanzami-sub000/pkg/tracing"
)

// hasPlayback reports whether the profile, or its owner's profile-less
// sessions, ever finished a play.
func (e *Engine) hasPlayback(ctx context.Context, p catalog.Profile) (bool, error) {
	var has bool
	err := tracing.Trace(ctx, "events.has_playback", func(ctx context.Context) error {
		var err error
		has, err = e.store.HasEvents(ctx, catalog.EventQuery{
			ProfileID: p.ID,
			UserID:    p.UserID,
			Types:     []catalog.EventType{catalog.EventPlayEnd},
		})
		return err
	})
	return has, apperrors.Upstream("checking playback history", err)
}

// anchors returns titles of the most recent limit PLAY_END or THUMBS_UP
// events, de-duplicated keeping the most recent occurrence. When there are
// none it falls back to the first fallbackLimit ids of the recent-views
// snapshot.
func (e *Engine) anchors(ctx context.Context, p catalog.Profile, limit, fallbackLimit int) ([]string, error) {
	var events []catalog.EngagementEvent
	err := tracing.Trace(ctx, "events.anchors", func(ctx context.Context) error {
		var err error
		events, err = e.store.RecentEvents(ctx, catalog.EventQuery{
			ProfileID:    p.ID,
			UserID:       p.UserID,
			Types:        []catalog.EventType{catalog.EventPlayEnd, catalog.EventThumbsUp},
			RequireTitle: true,
			Limit:        limit,
		})
		return err
	})
	if err != nil {
		return nil, apperrors.Upstream("reading anchor events", err)
	}
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, *ev.TitleID)
	}
	anchors := dedupe(ids, 0)
	if len(anchors) > 0 {
		return anchors, nil
	}

	var rv *catalog.ProfileRecentViews
	err = tracing.Trace(ctx, "snapshots.recent_views", func(ctx context.Context) error {
		var err error
		rv, err = e.store.RecentViews(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, apperrors.Upstream("reading recent views", err)
	}
	if rv == nil {
		return []string{}, nil
	}
	return dedupe(rv.TitleIDs, fallbackLimit), nil
}

// expansion is what the anchor set expands into.
type expansion struct {
	genres     []string
	similar    []string
	popular    []string
	prefGenres []string
}

// expand reads the anchor titles' genres, the top similarity targets of the
// anchors, the profile's daily country popularity and, when withPrefs is
// set, its preference snapshot. The reads are independent and run
// concurrently.
func (e *Engine) expand(ctx context.Context, p catalog.Profile, anchors []string, simLimit int, withPrefs bool) (expansion, error) {
	var x expansion
	g, gctx := errgroup.WithContext(ctx)
	if len(anchors) > 0 {
		g.Go(func() error {
			return tracing.Trace(gctx, "titles.anchor_genres", func(ctx context.Context) error {
				titles, err := e.store.FindTitles(ctx, catalog.TitleQuery{IDs: anchors})
				if err != nil {
					return apperrors.Upstream("reading anchor titles", err)
				}
				var genres []string
				for _, t := range titles {
					genres = append(genres, t.Genres...)
				}
				x.genres = dedupe(genres, 0)
				return nil
			})
		})
		g.Go(func() error {
			return tracing.Trace(gctx, "similarity.top", func(ctx context.Context) error {
				edges, err := e.store.TopSimilar(ctx, anchors, simLimit)
				if err != nil {
					return apperrors.Upstream("reading similarity edges", err)
				}
				targets := make([]string, 0, len(edges))
				for _, edge := range edges {
					targets = append(targets, edge.TargetTitleID)
				}
				x.similar = dedupe(targets, 0)
				return nil
			})
		})
	}
	g.Go(func() error {
		return tracing.Trace(gctx, "popularity.daily", func(ctx context.Context) error {
			snap, err := e.store.Popularity(ctx, catalog.DailyPopularity(p.Country))
			if err != nil {
				return apperrors.Upstream("reading popularity snapshot", err)
			}
			x.popular = snap.TitleIDs()
			return nil
		})
	})
	if withPrefs {
		g.Go(func() error {
			return tracing.Trace(gctx, "snapshots.preferences", func(ctx context.Context) error {
				snap, err := e.store.PreferenceSnapshot(ctx, p.ID)
				if err != nil {
					return apperrors.Upstream("reading preference snapshot", err)
				}
				if snap != nil {
					x.prefGenres = snap.Genres
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return expansion{}, err
	}
	return x, nil
}

// dedupe drops repeated and empty ids keeping first occurrences, capped at
// limit when limit > 0.
func dedupe(ids []string, limit int) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
