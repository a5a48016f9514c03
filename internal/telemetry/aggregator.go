package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
	"github.com/devdanny2024/wanzami-sub000/pkg/kafka"
)

// ExposureStats summarises impressions seen since the aggregator started.
type ExposureStats struct {
	TotalImpressions     int64          `json:"totalImpressions"`
	CacheHits            int64          `json:"cacheHits"`
	CacheHitRate         float64        `json:"cacheHitRate"`
	ImpressionsPerMinute float64        `json:"impressionsPerMinute"`
	Variants             []VariantCount `json:"variants"`
	Since                time.Time      `json:"since"`
}

// VariantCount is the exposure count of one experiment arm on one surface.
type VariantCount struct {
	Experiment  string  `json:"experiment"`
	Variant     string  `json:"variant"`
	Surface     string  `json:"surface"`
	Impressions int64   `json:"impressions"`
	CacheHits   int64   `json:"cacheHits"`
	Share       float64 `json:"share"`
}

type variantKey struct {
	experiment, variant, surface string
}

type variantTally struct {
	impressions int64
	cacheHits   int64
}

// Aggregator counts exposures per experiment arm in memory.
type Aggregator struct {
	mu        sync.RWMutex
	total     atomic.Int64
	cacheHits atomic.Int64
	tallies   map[variantKey]*variantTally
	startTime time.Time
	logger    *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		tallies:   make(map[variantKey]*variantTally),
		startTime: time.Now(),
		logger:    slog.Default().With("component", "exposure-aggregator"),
	}
}

// Record counts ev if it is an impression.
func (a *Aggregator) Record(ev catalog.EngagementEvent) {
	exp, ok := ExposureFromEvent(ev)
	if !ok {
		return
	}
	a.total.Add(1)
	if exp.Cache {
		a.cacheHits.Add(1)
	}
	key := variantKey{exp.Experiment, exp.Variant, exp.Surface}
	a.mu.Lock()
	t, ok := a.tallies[key]
	if !ok {
		t = &variantTally{}
		a.tallies[key] = t
	}
	t.impressions++
	if exp.Cache {
		t.cacheHits++
	}
	a.mu.Unlock()
}

// Publish lets the aggregator sit behind a Collector directly.
func (a *Aggregator) Publish(_ context.Context, ev catalog.EngagementEvent) error {
	a.Record(ev)
	return nil
}

// HandleEvent decodes engagement events from Kafka, counts impressions and
// hands each event to next. Undecodable messages are logged and skipped.
func HandleEvent(agg *Aggregator, next func(ctx context.Context, ev catalog.EngagementEvent)) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[catalog.EngagementEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode engagement event", "key", string(key), "error", err)
			return nil
		}
		agg.Record(ev)
		if next != nil {
			next(ctx, ev)
		}
		return nil
	}
}

func (a *Aggregator) Stats() ExposureStats {
	stats := ExposureStats{
		TotalImpressions: a.total.Load(),
		CacheHits:        a.cacheHits.Load(),
		Since:            a.startTime.UTC(),
		Variants:         []VariantCount{},
	}
	if stats.TotalImpressions > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.TotalImpressions)
	}
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.ImpressionsPerMinute = float64(stats.TotalImpressions) / elapsed
	}

	perExperiment := make(map[string]int64)
	a.mu.RLock()
	for k, t := range a.tallies {
		perExperiment[k.experiment+"\x00"+k.surface] += t.impressions
		stats.Variants = append(stats.Variants, VariantCount{
			Experiment:  k.experiment,
			Variant:     k.variant,
			Surface:     k.surface,
			Impressions: t.impressions,
			CacheHits:   t.cacheHits,
		})
	}
	a.mu.RUnlock()

	for i := range stats.Variants {
		v := &stats.Variants[i]
		if total := perExperiment[v.Experiment+"\x00"+v.Surface]; total > 0 {
			v.Share = float64(v.Impressions) / float64(total)
		}
	}
	sort.Slice(stats.Variants, func(i, j int) bool {
		a, b := stats.Variants[i], stats.Variants[j]
		if a.Experiment != b.Experiment {
			return a.Experiment < b.Experiment
		}
		if a.Surface != b.Surface {
			return a.Surface < b.Surface
		}
		return a.Variant < b.Variant
	})
	return stats
}
