package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
	"github.com/devdanny2024/wanzami-sub000/internal/recommend/cache"
	"github.com/devdanny2024/wanzami-sub000/internal/store/memory"
	"github.com/devdanny2024/wanzami-sub000/internal/telemetry"
	"github.com/devdanny2024/wanzami-sub000/pkg/config"
	apperrors "github.com/devdanny2024/wanzami-sub000/pkg/errors"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type recordingTracker struct {
	mu   sync.Mutex
	seen []telemetry.Impression
}

func (r *recordingTracker) TrackImpression(_ context.Context, imp telemetry.Impression) {
	r.mu.Lock()
	r.seen = append(r.seen, imp)
	r.mu.Unlock()
}

func (r *recordingTracker) all() []telemetry.Impression {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Impression(nil), r.seen...)
}

func newTestEngine(store Store, tracker ImpressionTracker) *Engine {
	cfg := config.Default()
	return NewEngine(cfg.Recommend, cfg.Cache.TTL, Deps{
		Store:       store,
		Cache:       cache.NewMemoryBackend(),
		Impressions: tracker,
	}).WithClock(func() time.Time { return testNow })
}

func sp(s string) *string { return &s }

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func at(hh, mm int) time.Time {
	return time.Date(2024, 6, 1, hh, mm, 0, 0, time.UTC)
}

func event(profileID, titleID string, typ catalog.EventType, when time.Time, meta map[string]any) catalog.EngagementEvent {
	ev := catalog.EngagementEvent{
		ID:         fmt.Sprintf("%s-%s-%s-%d", profileID, titleID, typ, when.Unix()),
		UserID:     sp("u1"),
		EventType:  typ,
		OccurredAt: when,
		Metadata:   meta,
	}
	if profileID != "" {
		ev.ProfileID = sp(profileID)
	}
	if titleID != "" {
		ev.TitleID = sp(titleID)
	}
	return ev
}

var viewer = catalog.Profile{ID: "p1", UserID: "u1", Country: "US"}

func titleIDs(ts []catalog.Title) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rankingStore is the shared catalog for the ranked surfaces:
// A is the anchor, E is region-locked, F archived, G unrelated.
func rankingStore() *memory.Store {
	s := memory.New()
	s.PutTitles(
		catalog.Title{ID: "A", Genres: []string{"drama"}, ReleaseDate: day(2020, 1, 1)},
		catalog.Title{ID: "B", Genres: []string{"drama"}, IsOriginal: true, ReleaseDate: day(2021, 1, 1)},
		catalog.Title{ID: "C", Genres: []string{"drama"}, ReleaseDate: day(2023, 1, 1)},
		catalog.Title{ID: "D", Genres: []string{"comedy"}, ReleaseDate: day(2022, 1, 1)},
		catalog.Title{ID: "E", Genres: []string{"drama"}, CountryAvailability: []string{"NG"}, ReleaseDate: day(2023, 6, 1)},
		catalog.Title{ID: "F", Genres: []string{"drama"}, Archived: true, ReleaseDate: day(2023, 7, 1)},
		catalog.Title{ID: "G", Genres: []string{"thriller"}, ReleaseDate: day(2019, 1, 1)},
	)
	s.AppendEvents(context.Background(), []catalog.EngagementEvent{
		event("p1", "A", catalog.EventPlayEnd, at(9, 0), map[string]any{"completion": 1.0}),
	})
	s.PutSimilarity(catalog.TitleSimilarity{SourceTitleID: "A", TargetTitleID: "D", Score: 0.9})
	s.PutPopularity(catalog.PopularitySnapshot{
		Key:   catalog.DailyPopularity("US"),
		Items: []catalog.PopularityItem{{TitleID: "C", Count: 10}, {TitleID: "E", Count: 8}},
	})
	return s
}

func TestContinueWatchingOrdersByRecency(t *testing.T) {
	s := memory.New()
	s.PutTitles(catalog.Title{ID: "A"}, catalog.Title{ID: "B"})
	s.AppendEvents(context.Background(), []catalog.EngagementEvent{
		event("p1", "A", catalog.EventScrub, at(10, 0), map[string]any{"positionSec": 600, "durationSec": 1200}),
		event("p1", "A", catalog.EventPlayEnd, at(10, 5), map[string]any{"completionPercent": 0.55}),
		event("p1", "B", catalog.EventPlayEnd, at(9, 0), map[string]any{"completion": 1.0}),
	})

	got, err := newTestEngine(s, nil).ContinueWatching(context.Background(), viewer)
	if err != nil {
		t.Fatalf("ContinueWatching: %v", err)
	}
	if len(got.Items) != 2 {
		t.Fatalf("expected 2 items, got %+v", got.Items)
	}
	if got.Items[0].TitleID != "A" || got.Items[0].CompletionPercent != 0.55 {
		t.Errorf("first item = %+v, want A at 0.55", got.Items[0])
	}
	if got.Items[1].TitleID != "B" || got.Items[1].CompletionPercent != 1.0 {
		t.Errorf("second item = %+v, want B at 1.0", got.Items[1])
	}
	if !got.Items[0].LastWatchedAt.Equal(at(10, 5)) {
		t.Errorf("lastWatchedAt = %v", got.Items[0].LastWatchedAt)
	}
}

func TestContinueWatchingCompletion(t *testing.T) {
	tests := []struct {
		name   string
		meta   map[string]any
		want   float64
		listed bool
	}{
		{"explicit percent", map[string]any{"completionPercent": 0.4}, 0.4, true},
		{"completion alias", map[string]any{"completion": 0.3}, 0.3, true},
		{"clamped above one", map[string]any{"completionPercent": 1.7}, 1, true},
		{"non-numeric percent falls back to position", map[string]any{"completionPercent": "50%", "positionSec": 30, "durationSec": 120}, 0.25, true},
		{"zero duration skipped", map[string]any{"positionSec": 30, "durationSec": 0}, 0, false},
		{"negative dropped", map[string]any{"completion": -0.2}, 0, false},
		{"zero dropped", map[string]any{"completion": 0.0}, 0, false},
		{"infinite dropped", map[string]any{"completion": math.Inf(1)}, 0, false},
		{"no signal", map[string]any{"device": "tv"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			s.PutTitles(catalog.Title{ID: "A"})
			s.AppendEvents(context.Background(), []catalog.EngagementEvent{
				event("p1", "A", catalog.EventPlayEnd, at(10, 0), tt.meta),
			})
			got, err := newTestEngine(s, nil).ContinueWatching(context.Background(), viewer)
			if err != nil {
				t.Fatalf("ContinueWatching: %v", err)
			}
			if !tt.listed {
				if len(got.Items) != 0 {
					t.Fatalf("expected no items, got %+v", got.Items)
				}
				return
			}
			if len(got.Items) != 1 || got.Items[0].CompletionPercent != tt.want {
				t.Fatalf("got %+v, want completion %v", got.Items, tt.want)
			}
			if c := got.Items[0].CompletionPercent; c < 0 || c > 1 {
				t.Errorf("completion %v outside [0,1]", c)
			}
		})
	}
}

func TestContinueWatchingAttribution(t *testing.T) {
	s := memory.New()
	s.PutTitles(catalog.Title{ID: "mine"}, catalog.Title{ID: "session"}, catalog.Title{ID: "sibling"}, catalog.Title{ID: "stranger"})
	stranger := event("", "stranger", catalog.EventPlayEnd, at(8, 0), map[string]any{"completion": 0.5})
	stranger.UserID = sp("u2")
	s.AppendEvents(context.Background(), []catalog.EngagementEvent{
		event("p1", "mine", catalog.EventPlayEnd, at(10, 0), map[string]any{"completion": 0.5}),
		event("", "session", catalog.EventScrub, at(9, 0), map[string]any{"completion": 0.5}),
		event("p2", "sibling", catalog.EventPlayEnd, at(11, 0), map[string]any{"completion": 0.5}),
		stranger,
	})
	got, err := newTestEngine(s, nil).ContinueWatching(context.Background(), viewer)
	if err != nil {
		t.Fatalf("ContinueWatching: %v", err)
	}
	var ids []string
	for _, it := range got.Items {
		ids = append(ids, it.TitleID)
	}
	if !equalIDs(ids, []string{"mine", "session"}) {
		t.Errorf("got %v, want [mine session]", ids)
	}
}

func TestContinueWatchingThresholdAndCap(t *testing.T) {
	s := memory.New()
	s.PutTitles(catalog.Title{ID: "done"}, catalog.Title{ID: "half"}, catalog.Title{ID: "start"})
	s.AppendEvents(context.Background(), []catalog.EngagementEvent{
		event("p1", "done", catalog.EventPlayEnd, at(12, 0), map[string]any{"completion": 0.95}),
		event("p1", "half", catalog.EventPlayEnd, at(11, 0), map[string]any{"completion": 0.5}),
		event("p1", "start", catalog.EventPlayEnd, at(10, 0), map[string]any{"completion": 0.1}),
	})

	e := newTestEngine(s, nil)
	e.cfg.ContinueWatching.FinishedThreshold = 0.9
	e.cfg.ContinueWatching.MaxItems = 1
	got, err := e.ContinueWatching(context.Background(), viewer)
	if err != nil {
		t.Fatalf("ContinueWatching: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].TitleID != "half" {
		t.Errorf("got %+v, want only half", got.Items)
	}
}

func TestBecauseYouWatchedNoHistory(t *testing.T) {
	s := rankingStore()
	other := catalog.Profile{ID: "p9", UserID: "u9", Country: "US"}
	s.AppendEvents(context.Background(), []catalog.EngagementEvent{
		event("p9", "A", catalog.EventThumbsUp, at(9, 0), nil),
	})
	s.PutRecentViews(catalog.ProfileRecentViews{ProfileID: "p9", TitleIDs: []string{"A"}})
	e := newTestEngine(s, nil)

	got, hit, err := e.BecauseYouWatched(context.Background(), other)
	if err != nil {
		t.Fatalf("BecauseYouWatched: %v", err)
	}
	if hit || got.HasHistory || len(got.Items) != 0 || len(got.Anchors) != 0 || got.Items == nil || got.Anchors == nil {
		t.Fatalf("got %+v, want empty non-nil result without history", got)
	}

	s.AppendEvents(context.Background(), []catalog.EngagementEvent{
		event("p9", "A", catalog.EventPlayEnd, at(10, 0), nil),
	})
	got, _, err = e.BecauseYouWatched(context.Background(), other)
	if err != nil {
		t.Fatalf("BecauseYouWatched: %v", err)
	}
	if !got.HasHistory || len(got.Items) == 0 {
		t.Errorf("no-history result must not be cached: %+v", got)
	}
}

func TestBecauseYouWatchedRanksExpansion(t *testing.T) {
	e := newTestEngine(rankingStore(), nil)
	got, hit, err := e.BecauseYouWatched(context.Background(), viewer)
	if err != nil {
		t.Fatalf("BecauseYouWatched: %v", err)
	}
	if hit {
		t.Error("first call should miss")
	}
	if !equalIDs(got.Anchors, []string{"A"}) {
		t.Errorf("anchors = %v", got.Anchors)
	}
	// C (popular, newest) and B (original) tie at 1.5; C wins on release date.
	if ids := titleIDs(got.Items); !equalIDs(ids, []string{"C", "B", "D"}) {
		t.Errorf("items = %v, want [C B D]", ids)
	}

	again, hit, err := e.BecauseYouWatched(context.Background(), viewer)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if !equalIDs(titleIDs(again.Items), titleIDs(got.Items)) {
		t.Error("cached payload differs")
	}
}

func TestBecauseYouWatchedFallbacks(t *testing.T) {
	t.Run("recent views become anchors", func(t *testing.T) {
		s := rankingStore()
		p := catalog.Profile{ID: "p2", UserID: "u2", Country: "US"}
		ev := event("p2", "", catalog.EventPlayEnd, at(9, 0), nil)
		s.AppendEvents(context.Background(), []catalog.EngagementEvent{ev})
		s.PutRecentViews(catalog.ProfileRecentViews{ProfileID: "p2", TitleIDs: []string{"A", "A", "G"}})

		got, _, err := newTestEngine(s, nil).BecauseYouWatched(context.Background(), p)
		if err != nil {
			t.Fatalf("BecauseYouWatched: %v", err)
		}
		if !equalIDs(got.Anchors, []string{"A", "G"}) {
			t.Errorf("anchors = %v, want [A G]", got.Anchors)
		}
		for _, it := range got.Items {
			if it.ID == "A" || it.ID == "G" {
				t.Errorf("anchor %s surfaced as an item", it.ID)
			}
		}
	})

	t.Run("preference genres without anchors", func(t *testing.T) {
		s := rankingStore()
		p := catalog.Profile{ID: "p3", UserID: "u3", Country: "US"}
		s.AppendEvents(context.Background(), []catalog.EngagementEvent{event("p3", "", catalog.EventPlayEnd, at(9, 0), nil)})
		s.PutPreferences(catalog.ProfilePreferenceSnapshot{ProfileID: "p3", Genres: []string{"thriller"}})

		got, _, err := newTestEngine(s, nil).BecauseYouWatched(context.Background(), p)
		if err != nil {
			t.Fatalf("BecauseYouWatched: %v", err)
		}
		if len(got.Anchors) != 0 || got.Anchors == nil {
			t.Errorf("anchors = %#v, want empty", got.Anchors)
		}
		if !equalIDs(titleIDs(got.Items), []string{"G"}) || !got.HasHistory {
			t.Errorf("got %+v", got)
		}
	})
}

func TestForYouCacheHitStillLogsImpression(t *testing.T) {
	tracker := &recordingTracker{}
	e := newTestEngine(rankingStore(), tracker)

	first, hit, err := e.ForYou(context.Background(), viewer)
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	second, hit, err := e.ForYou(context.Background(), viewer)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}

	if !equalIDs(titleIDs(first.Items), titleIDs(second.Items)) || !equalIDs(first.Anchors, second.Anchors) {
		t.Error("cached response differs from the computed one")
	}
	if first.Variant != second.Variant || first.Variant == "" || first.Experiment != "foryou_v1" {
		t.Errorf("variants %q / %q, experiment %q", first.Variant, second.Variant, first.Experiment)
	}

	imps := tracker.all()
	if len(imps) != 2 {
		t.Fatalf("expected 2 impressions, got %d", len(imps))
	}
	if imps[0].Cache || !imps[1].Cache {
		t.Errorf("cache flags = %v, %v; want false, true", imps[0].Cache, imps[1].Cache)
	}
	for _, imp := range imps {
		if imp.Surface != SurfaceForYou || imp.Variant != first.Variant || imp.ItemCount != len(first.Items) || imp.AnchorCount != 1 {
			t.Errorf("unexpected impression %+v", imp)
		}
	}
}

func TestForYouMergesPools(t *testing.T) {
	got, _, err := newTestEngine(rankingStore(), nil).ForYou(context.Background(), viewer)
	if err != nil {
		t.Fatalf("ForYou: %v", err)
	}
	// B original 1.5, D similar 1.0, C popular 0.5, G fresh pool only.
	if ids := titleIDs(got.Items); !equalIDs(ids, []string{"B", "D", "C", "G"}) {
		t.Errorf("items = %v, want [B D C G]", ids)
	}
	if !equalIDs(got.Anchors, []string{"A"}) {
		t.Errorf("anchors = %v", got.Anchors)
	}
}

func TestForYouWithoutAnySignals(t *testing.T) {
	s := rankingStore()
	p := catalog.Profile{ID: "fresh", UserID: "u-new", Country: "US"}
	got, _, err := newTestEngine(s, nil).ForYou(context.Background(), p)
	if err != nil {
		t.Fatalf("ForYou: %v", err)
	}
	if len(got.Anchors) != 0 || len(got.Items) == 0 {
		t.Errorf("cold profile should still get popular and fresh titles: %+v", got)
	}
}

func TestSurfacesNeverLeakIneligibleTitles(t *testing.T) {
	s := memory.New()
	r, pg, g := "R", "PG", "G"
	s.PutTitles(
		catalog.Title{ID: "T1", Genres: []string{"drama"}, CountryAvailability: []string{"NG"}, ReleaseDate: day(2023, 1, 1)},
		catalog.Title{ID: "T2", Genres: []string{"drama"}, CountryAvailability: []string{}, ReleaseDate: day(2022, 1, 1)},
		catalog.Title{ID: "kid-anchor", Genres: []string{"drama"}, MaturityRating: &g},
		catalog.Title{ID: "rated-r", Genres: []string{"drama"}, MaturityRating: &r, ReleaseDate: day(2023, 5, 1)},
		catalog.Title{ID: "rated-pg", Genres: []string{"drama"}, MaturityRating: &pg},
		catalog.Title{ID: "unrated", Genres: []string{"drama"}},
		catalog.Title{ID: "gone", Genres: []string{"drama"}, Archived: true},
	)
	full := map[string]any{"completion": 0.5}
	kidEvent := func(title string, when time.Time) catalog.EngagementEvent {
		ev := event("kid", title, catalog.EventPlayEnd, when, full)
		ev.UserID = sp("u-kid")
		return ev
	}
	s.AppendEvents(context.Background(), []catalog.EngagementEvent{
		event("p1", "T1", catalog.EventPlayEnd, at(10, 0), full),
		event("p1", "T2", catalog.EventPlayEnd, at(9, 0), full),
		event("p1", "gone", catalog.EventPlayEnd, at(8, 0), full),
		kidEvent("kid-anchor", at(10, 0)),
		kidEvent("rated-r", at(9, 0)),
	})
	s.PutSimilarity(
		catalog.TitleSimilarity{SourceTitleID: "T2", TargetTitleID: "T1", Score: 1},
		catalog.TitleSimilarity{SourceTitleID: "kid-anchor", TargetTitleID: "rated-r", Score: 1},
	)
	s.PutPopularity(catalog.PopularitySnapshot{Key: catalog.DailyPopularity("US"), Items: []catalog.PopularityItem{{TitleID: "T1"}, {TitleID: "rated-r"}, {TitleID: "gone"}}})

	kid := catalog.Profile{ID: "kid", UserID: "u-kid", Country: "US", KidMode: true}
	e := newTestEngine(s, nil)

	for _, tc := range []struct {
		profile   catalog.Profile
		forbidden []string
	}{
		{viewer, []string{"T1", "gone"}},
		{kid, []string{"T1", "rated-r", "gone"}},
	} {
		surfaced := surfaceAll(t, e, tc.profile)
		for _, id := range tc.forbidden {
			if surfaced[id] {
				t.Errorf("profile %s was shown ineligible title %s", tc.profile.ID, id)
			}
		}
	}

	cw, _ := e.ContinueWatching(context.Background(), viewer)
	if len(cw.Items) != 1 || cw.Items[0].TitleID != "T2" {
		t.Errorf("region-free title should stay eligible: %+v", cw.Items)
	}
	fy, _, _ := e.ForYou(context.Background(), kid)
	kidIDs := map[string]bool{}
	for _, it := range fy.Items {
		kidIDs[it.ID] = true
	}
	if !kidIDs["rated-pg"] || !kidIDs["unrated"] {
		t.Errorf("kid profile should see PG and unrated titles, got %v", titleIDs(fy.Items))
	}
}

func surfaceAll(t *testing.T, e *Engine, p catalog.Profile) map[string]bool {
	t.Helper()
	ctx := context.Background()
	seen := map[string]bool{}
	cw, err := e.ContinueWatching(ctx, p)
	if err != nil {
		t.Fatalf("ContinueWatching: %v", err)
	}
	for _, it := range cw.Items {
		seen[it.TitleID] = true
	}
	byw, _, err := e.BecauseYouWatched(ctx, p)
	if err != nil {
		t.Fatalf("BecauseYouWatched: %v", err)
	}
	for _, it := range byw.Items {
		seen[it.ID] = true
	}
	fy, _, err := e.ForYou(ctx, p)
	if err != nil {
		t.Fatalf("ForYou: %v", err)
	}
	for _, it := range fy.Items {
		seen[it.ID] = true
	}
	return seen
}

type brokenSimilarity struct {
	*memory.Store
}

func (brokenSimilarity) TopSimilar(context.Context, []string, int) ([]catalog.TitleSimilarity, error) {
	return nil, errors.New("connection reset")
}

func TestUpstreamFailureIsolatedPerSurface(t *testing.T) {
	e := newTestEngine(brokenSimilarity{rankingStore()}, nil)

	_, _, err := e.ForYou(context.Background(), viewer)
	if !errors.Is(err, apperrors.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if code := apperrors.HTTPStatusCode(err); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if _, err := e.ContinueWatching(context.Background(), viewer); err != nil {
		t.Errorf("Continue Watching should not depend on similarity: %v", err)
	}
}

func TestAssignVariant(t *testing.T) {
	variants := []string{"control", "originals_boost"}
	if a, b := AssignVariant("foryou_v1", "p1", variants), AssignVariant("foryou_v1", "p1", variants); a != b {
		t.Fatalf("assignment not deterministic: %s vs %s", a, b)
	}
	if AssignVariant("foryou_v1", "p1", nil) != "" {
		t.Error("empty variant list should yield empty variant")
	}

	counts := map[string]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		counts[AssignVariant("foryou_v1", fmt.Sprintf("profile-%d", i), variants)]++
	}
	for _, v := range variants {
		share := float64(counts[v]) / n
		if share < 0.47 || share > 0.53 {
			t.Errorf("variant %s share %.3f outside [0.47, 0.53]", v, share)
		}
	}

	three := []string{"a", "b", "c"}
	moved := 0
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("profile-%d", i)
		if AssignVariant("foryou_v1", id, three) != AssignVariant("foryou_v2", id, three) {
			moved++
		}
	}
	if moved == 0 {
		t.Error("experiment name should take part in the hash")
	}
}

func BenchmarkForYouCold(b *testing.B) {
	s := memory.New()
	for i := 0; i < 500; i++ {
		s.PutTitles(catalog.Title{
			ID:          fmt.Sprintf("t%03d", i),
			Genres:      []string{[]string{"drama", "comedy", "thriller", "family"}[i%4]},
			IsOriginal:  i%7 == 0,
			ReleaseDate: day(2000+i%24, time.Month(1+i%12), 1),
		})
	}
	var events []catalog.EngagementEvent
	for i := 0; i < 200; i++ {
		events = append(events, event("p1", fmt.Sprintf("t%03d", i%40), catalog.EventPlayEnd, at(0, 0).Add(time.Duration(i)*time.Minute), nil))
	}
	s.AppendEvents(context.Background(), events)
	for i := 0; i < 40; i++ {
		s.PutSimilarity(catalog.TitleSimilarity{SourceTitleID: fmt.Sprintf("t%03d", i), TargetTitleID: fmt.Sprintf("t%03d", 100+i), Score: float64(i)})
	}
	e := newTestEngine(s, nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.computeForYou(context.Background(), viewer); err != nil {
			b.Fatal(err)
		}
	}
}

// gatedEvents holds RecentEvents until release is closed or ctx is done.
type gatedEvents struct {
	*memory.Store
	entered chan struct{}
	once    sync.Once
	release chan struct{}
}

func (g *gatedEvents) RecentEvents(ctx context.Context, q catalog.EventQuery) ([]catalog.EngagementEvent, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
	}
	return g.Store.RecentEvents(ctx, q)
}

func TestForYouSharedMissSurvivesFirstCallerCancel(t *testing.T) {
	store := &gatedEvents{Store: rankingStore(), entered: make(chan struct{}), release: make(chan struct{})}
	e := newTestEngine(store, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := e.ForYou(firstCtx, viewer)
		firstErr <- err
	}()
	<-store.entered

	secondErr := make(chan error, 1)
	go func() {
		_, _, err := e.ForYou(context.Background(), viewer)
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller: expected context.Canceled, got %v", err)
	}
	close(store.release)
	if err := <-secondErr; err != nil {
		t.Fatalf("second caller should not inherit the first caller's cancel: %v", err)
	}
	if _, hit, err := e.ForYou(context.Background(), viewer); err != nil || !hit {
		t.Errorf("shared result should be cached: hit=%v err=%v", hit, err)
	}
}
