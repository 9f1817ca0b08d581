package cache

import (
	"math"
	"sync"
	"testing"
)

func TestCacheMetrics(t *testing.T) {
	metrics := NewCacheMetrics()

	metrics.RecordHit()
	metrics.RecordHit()
	metrics.RecordMiss()
	metrics.RecordSet()
	metrics.RecordDelete()
	metrics.RecordError()

	want := CacheStats{Hits: 2, Misses: 1, Sets: 1, Deletes: 1, Errors: 1}
	if got := metrics.GetStats(); got != want {
		t.Errorf("GetStats() = %+v, want %+v", got, want)
	}

	metrics.Reset()
	if got := metrics.GetStats(); got != (CacheStats{}) {
		t.Errorf("Expected zeroed stats after Reset, got %+v", got)
	}
}

func TestCacheMetricsHitRate(t *testing.T) {
	tests := []struct {
		hits, misses int
		want         float64
	}{
		{0, 0, 0},
		{2, 0, 100},
		{2, 1, 66.67},
		{0, 4, 0},
	}

	for _, tt := range tests {
		metrics := NewCacheMetrics()
		for i := 0; i < tt.hits; i++ {
			metrics.RecordHit()
		}
		for i := 0; i < tt.misses; i++ {
			metrics.RecordMiss()
		}

		if got := metrics.HitRate(); math.Abs(got-tt.want) > 0.01 {
			t.Errorf("HitRate() with %d hits and %d misses = %.2f, want %.2f", tt.hits, tt.misses, got, tt.want)
		}
	}
}

func TestCacheMetricsConcurrency(t *testing.T) {
	metrics := NewCacheMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				metrics.RecordHit()
				metrics.RecordMiss()
				metrics.RecordSet()
			}
		}()
	}
	wg.Wait()

	stats := metrics.GetStats()
	if stats.Hits != 1000 || stats.Misses != 1000 || stats.Sets != 1000 {
		t.Errorf("Expected 1000 of each, got %+v", stats)
	}
}
