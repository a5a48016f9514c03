// Package cache is the short-lived surface cache. Entries are keyed
// <surface>:<profileId>, expire after a fixed TTL and are never invalidated
// by new engagement events, so TTL is the freshness bound of cached
// surfaces.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/devdanny2024/wanzami-sub000/pkg/metrics"
)

// Key composes the cache key for a surface and profile.
func Key(surface, profileID string) string {
	return surface + ":" + profileID
}

// Stats is a point-in-time hit/miss summary for one surface cache.
type Stats struct {
	Surface string  `json:"surface"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// Cache stores payloads of type T for one surface. Backend failures and
// undecodable entries degrade to a miss.
type Cache[T any] struct {
	backend        Backend
	surface        string
	ttl            time.Duration
	computeTimeout time.Duration
	group          singleflight.Group
	metrics        *metrics.Metrics
	logger         *slog.Logger
	hits           atomic.Int64
	misses         atomic.Int64
}

func New[T any](backend Backend, surface string, ttl time.Duration, m *metrics.Metrics) *Cache[T] {
	return &Cache[T]{
		backend: backend,
		surface: surface,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "surface-cache", "surface", surface),
	}
}

// WithComputeTimeout bounds each shared computation started by
// GetOrCompute. Zero leaves it unbounded.
func (c *Cache[T]) WithComputeTimeout(d time.Duration) *Cache[T] {
	c.computeTimeout = d
	return c
}

// Get returns the cached payload for profileID.
func (c *Cache[T]) Get(ctx context.Context, profileID string) (T, bool) {
	var zero T
	key := Key(c.surface, profileID)
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.miss()
		return zero, false
	}
	if !ok {
		c.miss()
		return zero, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn("cache entry undecodable", "key", key, "error", err)
		c.miss()
		return zero, false
	}
	c.hits.Add(1)
	c.metrics.CacheLookup(c.surface, true)
	return v, true
}

// Set stores v for profileID for the configured TTL. Last writer wins.
func (c *Cache[T]) Set(ctx context.Context, profileID string, v T) {
	key := Key(c.surface, profileID)
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached payload or computes, stores and returns
// it. Concurrent misses for the same key inside this process share one
// computation; other processes may still race and overwrite. The shared
// computation ignores the cancellation of the caller that started it and
// each caller stops waiting when its own ctx is done. The bool reports a
// cache hit.
func (c *Cache[T]) GetOrCompute(ctx context.Context, profileID string, compute func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	if v, ok := c.Get(ctx, profileID); ok {
		return v, true, nil
	}
	ch := c.group.DoChan(Key(c.surface, profileID), func() (any, error) {
		cctx := context.WithoutCancel(ctx)
		if c.computeTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(cctx, c.computeTimeout)
			defer cancel()
		}
		v, err := compute(cctx)
		if err != nil {
			return nil, err
		}
		c.Set(cctx, profileID, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return zero, false, fmt.Errorf("computing %s: %w", c.surface, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, false, fmt.Errorf("computing %s: %w", c.surface, res.Err)
		}
		return res.Val.(T), false, nil
	}
}

func (c *Cache[T]) Surface() string {
	return c.surface
}

func (c *Cache[T]) TTL() time.Duration {
	return c.ttl
}

func (c *Cache[T]) Stats() Stats {
	s := Stats{Surface: c.surface, Hits: c.hits.Load(), Misses: c.misses.Load()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *Cache[T]) miss() {
	c.misses.Add(1)
	c.metrics.CacheLookup(c.surface, false)
}
