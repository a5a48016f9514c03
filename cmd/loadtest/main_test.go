package main

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0, 1},
		{50, 5},
		{95, 10},
		{100, 10},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile(nil) = %v", got)
	}
}

func TestRecordRequest(t *testing.T) {
	s := NewStats()
	s.RecordRequest("for-you", time.Millisecond, http.StatusOK, "MISS", nil)
	s.RecordRequest("for-you", time.Millisecond, http.StatusOK, "HIT", nil)
	s.RecordRequest("continue-watching", time.Millisecond, http.StatusServiceUnavailable, "", nil)
	s.RecordRequest("for-you", 0, 0, "", errors.New("refused"))

	if s.totalRequests.Load() != 4 || s.successCount.Load() != 2 || s.errorCount.Load() != 2 {
		t.Errorf("counts: total=%d ok=%d err=%d", s.totalRequests.Load(), s.successCount.Load(), s.errorCount.Load())
	}
	if s.cacheable.Load() != 2 || s.cacheHits.Load() != 1 {
		t.Errorf("cache: cacheable=%d hits=%d", s.cacheable.Load(), s.cacheHits.Load())
	}
	if len(s.latencies["for-you"]) != 2 {
		t.Errorf("for-you latencies = %d", len(s.latencies["for-you"]))
	}
}
