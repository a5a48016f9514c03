package recommend

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
	apperrors "github.com/devdanny2024/wanzami-sub000/pkg/errors"
	"github.com/devdanny2024/wanzami-sub000/pkg/tracing"
)

type ContinueWatchingItem struct {
	TitleID           string        `json:"titleId"`
	CompletionPercent float64       `json:"completionPercent"`
	LastWatchedAt     time.Time     `json:"lastWatchedAt"`
	Title             catalog.Title `json:"title"`
}

type ContinueWatching struct {
	Items []ContinueWatchingItem `json:"items"`
}

type titleProgress struct {
	titleID    string
	completion float64
	lastAt     time.Time
}

// ContinueWatching rebuilds in-progress state from the recent PLAY_END and
// SCRUB window. It is never cached.
func (e *Engine) ContinueWatching(ctx context.Context, p catalog.Profile) (*ContinueWatching, error) {
	start := time.Now()
	ctx, span, done := e.begin(ctx, SurfaceContinueWatching, p.ID)
	defer done()

	out, err := e.continueWatching(ctx, p)
	span.RecordError(err)
	e.metrics.ObserveSurface(SurfaceContinueWatching, statusOf(err), false, time.Since(start), len(out.Items))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) continueWatching(ctx context.Context, p catalog.Profile) (*ContinueWatching, error) {
	cfg := e.cfg.ContinueWatching
	empty := &ContinueWatching{Items: []ContinueWatchingItem{}}

	var events []catalog.EngagementEvent
	err := tracing.Trace(ctx, "events.progress_window", func(ctx context.Context) error {
		var err error
		events, err = e.store.RecentEvents(ctx, catalog.EventQuery{
			ProfileID:    p.ID,
			UserID:       p.UserID,
			Types:        []catalog.EventType{catalog.EventPlayEnd, catalog.EventScrub},
			RequireTitle: true,
			Limit:        cfg.EventWindow,
		})
		return err
	})
	if err != nil {
		return empty, apperrors.Upstream("reading progress events", err)
	}

	progress := reduceProgress(events)
	if cfg.FinishedThreshold > 0 {
		kept := progress[:0]
		for _, pr := range progress {
			if pr.completion < cfg.FinishedThreshold {
				kept = append(kept, pr)
			}
		}
		progress = kept
	}
	if len(progress) == 0 {
		return empty, nil
	}

	ids := make([]string, len(progress))
	for i, pr := range progress {
		ids[i] = pr.titleID
	}
	elig := p.Eligibility()
	var titles []catalog.Title
	err = tracing.Trace(ctx, "titles.progress", func(ctx context.Context) error {
		var err error
		titles, err = e.store.FindTitles(ctx, catalog.TitleQuery{IDs: ids, Eligibility: &elig})
		return err
	})
	if err != nil {
		return empty, apperrors.Upstream("reading progress titles", err)
	}
	byID := make(map[string]catalog.Title, len(titles))
	for _, t := range titles {
		byID[t.ID] = t
	}

	items := make([]ContinueWatchingItem, 0, len(progress))
	for _, pr := range progress {
		t, ok := byID[pr.titleID]
		if !ok || !elig.Allows(t) {
			continue
		}
		items = append(items, ContinueWatchingItem{
			TitleID:           pr.titleID,
			CompletionPercent: clamp01(pr.completion),
			LastWatchedAt:     pr.lastAt,
			Title:             t,
		})
		if cfg.MaxItems > 0 && len(items) == cfg.MaxItems {
			break
		}
	}
	return &ContinueWatching{Items: items}, nil
}

// reduceProgress keeps, per title, the highest completion fraction and the
// latest event time, ordered by latest time descending.
func reduceProgress(events []catalog.EngagementEvent) []titleProgress {
	byTitle := make(map[string]*titleProgress)
	for _, ev := range events {
		if ev.TitleID == nil || *ev.TitleID == "" {
			continue
		}
		frac, ok := completionFraction(ev.Metadata)
		if !ok || math.IsNaN(frac) || math.IsInf(frac, 0) || frac <= 0 {
			continue
		}
		cur, seen := byTitle[*ev.TitleID]
		if !seen {
			byTitle[*ev.TitleID] = &titleProgress{titleID: *ev.TitleID, completion: frac, lastAt: ev.OccurredAt}
			continue
		}
		if frac > cur.completion {
			cur.completion = frac
		}
		if ev.OccurredAt.After(cur.lastAt) {
			cur.lastAt = ev.OccurredAt
		}
	}

	out := make([]titleProgress, 0, len(byTitle))
	for _, pr := range byTitle {
		out = append(out, *pr)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].lastAt.Equal(out[j].lastAt) {
			return out[i].lastAt.After(out[j].lastAt)
		}
		return out[i].titleID < out[j].titleID
	})
	return out
}

// completionFraction prefers an explicit completionPercent or completion
// value and otherwise derives positionSec/durationSec.
func completionFraction(meta map[string]any) (float64, bool) {
	for _, key := range []string{"completionPercent", "completion"} {
		if v, ok := number(meta[key]); ok {
			return v, true
		}
	}
	pos, okPos := number(meta["positionSec"])
	dur, okDur := number(meta["durationSec"])
	if okPos && okDur && dur > 0 {
		return pos / dur, true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperrors.IsClientError(err):
		return "client_error"
	default:
		return "error"
	}
}
