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

// BatchWriter accumulates events and appends them to the store when the
// buffer reaches batchSize or every flushInterval, whichever comes first.
type BatchWriter struct {
	store         EventAppender
	mu            sync.Mutex
	flushMu       sync.Mutex
	buffer        []catalog.EngagementEvent
	batchSize     int
	flushInterval time.Duration
	retry         resilience.RetryConfig
	metrics       *metrics.Metrics
	logger        *slog.Logger
	done          chan struct{}
}

func NewBatchWriter(store EventAppender, batchSize int, flushInterval time.Duration, m *metrics.Metrics) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchWriter{
		store:         store,
		buffer:        make([]catalog.EngagementEvent, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retry:         resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
		metrics:       m,
		logger:        slog.Default().With("component", "batch-writer"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop. The final flush runs after ctx
// is cancelled.
func (bw *BatchWriter) Start(ctx context.Context) {
	go func() {
		defer close(bw.done)
		ticker := time.NewTicker(bw.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				bw.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bw.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	bw.logger.Info("batch writer started",
		"batch_size", bw.batchSize,
		"flush_interval", bw.flushInterval,
	)
}

// Add buffers ev and flushes synchronously once the batch is full.
func (bw *BatchWriter) Add(ctx context.Context, ev catalog.EngagementEvent) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, ev)
	full := len(bw.buffer) >= bw.batchSize
	bw.mu.Unlock()

	if full {
		bw.Flush(ctx)
	}
}

// Close waits for the background flush loop to finish.
func (bw *BatchWriter) Close() {
	<-bw.done
}

// BufferLen returns the current number of buffered events.
func (bw *BatchWriter) BufferLen() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Flush writes the buffered events. A batch that still fails after retries
// is put back at the head of the buffer, which is capped at three batches.
func (bw *BatchWriter) Flush(ctx context.Context) {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	batch := bw.buffer
	bw.buffer = make([]catalog.EngagementEvent, 0, bw.batchSize)
	bw.mu.Unlock()

	err := resilience.Retry(ctx, "append-events", bw.retry, func() error {
		return bw.store.AppendEvents(ctx, batch)
	})
	if err != nil {
		bw.metrics.Telemetry("failed", len(batch))
		bw.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		bw.mu.Lock()
		bw.buffer = append(batch, bw.buffer...)
		if limit := bw.batchSize * 3; len(bw.buffer) > limit {
			dropped := len(bw.buffer) - limit
			bw.buffer = bw.buffer[:limit]
			bw.metrics.Telemetry("dropped", dropped)
			bw.logger.Warn("buffer overflow, events dropped", "dropped", dropped)
		}
		bw.mu.Unlock()
		return
	}
	bw.metrics.Telemetry("persisted", len(batch))
	bw.logger.Debug("batch flushed", "events", len(batch))
}
