package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
	"github.com/devdanny2024/wanzami-sub000/pkg/metrics"
	"github.com/devdanny2024/wanzami-sub000/pkg/resilience"
)

// Publisher delivers engagement events to their sink.
type Publisher interface {
	Publish(ctx context.Context, event catalog.EngagementEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event catalog.EngagementEvent) error

func (f PublisherFunc) Publish(ctx context.Context, event catalog.EngagementEvent) error {
	return f(ctx, event)
}

// Collector queues impressions on a bounded buffer and publishes them from
// a background goroutine. A full buffer drops the impression; the request
// that produced it is never blocked or failed.
type Collector struct {
	publisher Publisher
	eventCh   chan Impression
	retry     resilience.RetryConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewCollector(publisher Publisher, bufferSize int, m *metrics.Metrics) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		publisher: publisher,
		eventCh:   make(chan Impression, bufferSize),
		retry:     resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second},
		metrics:   m,
		logger:    slog.Default().With("component", "telemetry-collector"),
		done:      make(chan struct{}),
	}
}

// Start launches the publish loop. Cancelling ctx stops it after draining
// what is already queued.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case imp, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, imp)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("telemetry collector started", "buffer_size", cap(c.eventCh))
}

// TrackImpression enqueues imp without blocking.
func (c *Collector) TrackImpression(_ context.Context, imp Impression) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.metrics.Telemetry("dropped", 1)
		return
	}
	select {
	case c.eventCh <- imp:
		c.metrics.Telemetry("queued", 1)
	default:
		c.metrics.Telemetry("dropped", 1)
		c.logger.Warn("impression dropped (buffer full)", "profile_id", imp.ProfileID, "surface", imp.Surface)
	}
}

// Close stops accepting impressions and waits for queued ones to be
// published. Start must have been called.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.eventCh)
	}
	c.mu.Unlock()
	<-c.done
}

// Pending returns the number of queued impressions.
func (c *Collector) Pending() int {
	return len(c.eventCh)
}

func (c *Collector) publish(ctx context.Context, imp Impression) {
	ev := imp.Event()
	err := resilience.Retry(ctx, "publish-impression", c.retry, func() error {
		return c.publisher.Publish(ctx, ev)
	})
	if err != nil {
		c.metrics.Telemetry("failed", 1)
		c.logger.Error("failed to publish impression", "event_id", ev.ID, "profile_id", imp.ProfileID, "error", err)
		return
	}
	c.metrics.Telemetry("published", 1)
}

func (c *Collector) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case imp, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(ctx, imp)
		default:
			return
		}
	}
}
