package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
)

type recordingStore struct {
	mu      sync.Mutex
	events  []catalog.EngagementEvent
	calls   int
	failFor int
}

func (s *recordingStore) AppendEvents(_ context.Context, events []catalog.EngagementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFor {
		return errors.New("connection refused")
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingStore) snapshot() []catalog.EngagementEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalog.EngagementEvent(nil), s.events...)
}

func impression(variant string, cached bool) Impression {
	return Impression{
		ProfileID:  "p-1",
		UserID:     "u-1",
		Country:    "NG",
		Surface:    "for_you",
		Experiment: "for_you_ranking",
		Variant:    variant,
		Cache:      cached,
		ItemCount:  10,
		RequestID:  "req-1",
	}
}

func TestImpressionEventRoundTrip(t *testing.T) {
	ev := impression("treatment", true).Event()
	if ev.EventType != catalog.EventImpression || ev.ID == "" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.ProfileID == nil || *ev.ProfileID != "p-1" || ev.UserID == nil || *ev.UserID != "u-1" {
		t.Errorf("attribution not carried: %+v", ev)
	}
	exp, ok := ExposureFromEvent(ev)
	if !ok {
		t.Fatal("impression not recognised")
	}
	want := Exposure{Experiment: "for_you_ranking", Variant: "treatment", Surface: "for_you", Cache: true}
	if exp != want {
		t.Errorf("exposure = %+v, want %+v", exp, want)
	}

	if _, ok := ExposureFromEvent(catalog.EngagementEvent{EventType: catalog.EventPlayEnd}); ok {
		t.Error("PLAY_END must not count as an exposure")
	}
}

func TestCollectorPublishesThroughStore(t *testing.T) {
	store := &recordingStore{}
	c := NewCollector(NewStorePublisher(store), 16, nil)
	c.Start(context.Background())

	c.TrackImpression(context.Background(), impression("control", false))
	c.TrackImpression(context.Background(), impression("treatment", true))
	c.Close()

	if got := len(store.snapshot()); got != 2 {
		t.Fatalf("persisted %d events, want 2", got)
	}
}

func TestCollectorRetriesTransientFailures(t *testing.T) {
	store := &recordingStore{failFor: 1}
	c := NewCollector(NewStorePublisher(store), 4, nil)
	c.Start(context.Background())
	c.TrackImpression(context.Background(), impression("control", false))
	c.Close()

	if got := len(store.snapshot()); got != 1 {
		t.Fatalf("persisted %d events after retry, want 1", got)
	}
}

func TestCollectorDropsWhenFull(t *testing.T) {
	store := &recordingStore{}
	c := NewCollector(NewStorePublisher(store), 1, nil)

	// Not started: the second impression finds the buffer full.
	c.TrackImpression(context.Background(), impression("control", false))
	c.TrackImpression(context.Background(), impression("control", false))
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending())
	}

	c.Start(context.Background())
	c.Close()
	if got := len(store.snapshot()); got != 1 {
		t.Errorf("persisted %d events, want 1", got)
	}

	c.TrackImpression(context.Background(), impression("control", false))
	if got := len(store.snapshot()); got != 1 {
		t.Errorf("impression accepted after Close")
	}
}

func TestTeeStopsOnFirstError(t *testing.T) {
	var second int
	failing := PublisherFunc(func(context.Context, catalog.EngagementEvent) error { return errors.New("boom") })
	counting := PublisherFunc(func(context.Context, catalog.EngagementEvent) error { second++; return nil })

	if err := Tee(failing, counting).Publish(context.Background(), catalog.EngagementEvent{}); err == nil {
		t.Fatal("expected error")
	}
	if second != 0 {
		t.Error("publishing continued after an error")
	}
}

func TestBatchWriterFlushesWhenFull(t *testing.T) {
	store := &recordingStore{}
	bw := NewBatchWriter(store, 3, time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		bw.Add(ctx, impression("control", false).Event())
	}
	if len(store.snapshot()) != 0 || bw.BufferLen() != 2 {
		t.Fatalf("flushed before the batch was full")
	}
	bw.Add(ctx, impression("control", false).Event())
	if got := len(store.snapshot()); got != 3 {
		t.Errorf("persisted %d events, want 3", got)
	}
	if bw.BufferLen() != 0 {
		t.Errorf("buffer not emptied: %d", bw.BufferLen())
	}
}

func TestBatchWriterRequeuesFailedBatch(t *testing.T) {
	store := &recordingStore{failFor: 100}
	bw := NewBatchWriter(store, 2, time.Hour, nil)
	bw.retry.MaxAttempts = 1

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		bw.Add(ctx, impression("control", false).Event())
	}
	if got := bw.BufferLen(); got != 6 {
		t.Errorf("buffer = %d, want capped at 6", got)
	}

	store.mu.Lock()
	store.failFor = 0
	store.mu.Unlock()
	bw.Flush(ctx)
	if got := len(store.snapshot()); got != 6 {
		t.Errorf("persisted %d events after recovery, want 6", got)
	}
}

func TestBatchWriterFinalFlushOnShutdown(t *testing.T) {
	store := &recordingStore{}
	bw := NewBatchWriter(store, 100, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	bw.Start(ctx)
	bw.Add(ctx, impression("control", false).Event())
	cancel()
	bw.Close()

	if got := len(store.snapshot()); got != 1 {
		t.Errorf("persisted %d events, want 1", got)
	}
}

func TestAggregatorStats(t *testing.T) {
	agg := NewAggregator()
	agg.Record(impression("control", false).Event())
	agg.Record(impression("control", true).Event())
	agg.Record(impression("treatment", false).Event())
	agg.Record(catalog.EngagementEvent{EventType: catalog.EventPlayEnd})

	stats := agg.Stats()
	if stats.TotalImpressions != 3 || stats.CacheHits != 1 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if len(stats.Variants) != 2 {
		t.Fatalf("variants = %+v", stats.Variants)
	}
	control := stats.Variants[0]
	if control.Variant != "control" || control.Impressions != 2 || control.CacheHits != 1 {
		t.Errorf("control = %+v", control)
	}
	if diff := control.Share - 2.0/3.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("control share = %v", control.Share)
	}
}

func TestHandleEventSkipsGarbage(t *testing.T) {
	agg := NewAggregator()
	var forwarded int
	handle := HandleEvent(agg, func(context.Context, catalog.EngagementEvent) { forwarded++ })

	payload, err := json.Marshal(impression("control", false).Event())
	if err != nil {
		t.Fatal(err)
	}
	if err := handle(context.Background(), []byte("p-1"), payload); err != nil {
		t.Fatal(err)
	}
	if err := handle(context.Background(), nil, []byte("{not json")); err != nil {
		t.Errorf("garbage should be skipped, got %v", err)
	}
	if forwarded != 1 || agg.Stats().TotalImpressions != 1 {
		t.Errorf("forwarded=%d total=%d", forwarded, agg.Stats().TotalImpressions)
	}
}

type fakeHistory struct {
	snaps []ExposureStats
	err   error
}

func (f fakeHistory) ListSnapshots(context.Context, int) ([]ExposureStats, error) {
	return f.snaps, f.err
}

func TestHandler(t *testing.T) {
	agg := NewAggregator()
	agg.Record(impression("control", false).Event())

	h := NewHandler(agg, fakeHistory{snaps: []ExposureStats{{TotalImpressions: 7}}})
	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/experiments/exposures", nil))
	var stats ExposureStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || stats.TotalImpressions != 1 {
		t.Errorf("code=%d stats=%+v", rec.Code, stats)
	}

	tests := []struct {
		name   string
		h      *Handler
		query  string
		status int
	}{
		{"history", h, "", http.StatusOK},
		{"bad limit", h, "?limit=0", http.StatusBadRequest},
		{"not configured", NewHandler(agg, nil), "", http.StatusNotFound},
		{"store down", NewHandler(agg, fakeHistory{err: errors.New("down")}), "", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.h.History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/experiments/exposures/history"+tt.query, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}
