package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveComputation_IncrementsCounter(t *testing.T) {
	ScoreComputationsTotal.Reset()

	ObserveComputation("core", time.Now())

	m := &dto.Metric{}
	counter, err := ScoreComputationsTotal.GetMetricWithLabelValues("core")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)

	if m.Counter.GetValue() != 1.0 {
		t.Errorf("expected counter value 1, got %f", m.Counter.GetValue())
	}
}

func TestObserveComputation_ObservesHistogram(t *testing.T) {
	ScoreComputationDuration.Reset()

	ObserveComputation("fraud", time.Now())

	ch := make(chan prometheus.Metric, 10)
	ScoreComputationDuration.Collect(ch)
	close(ch)

	found := false
	for metric := range ch {
		m := &dto.Metric{}
		_ = metric.Write(m)
		if m.Histogram != nil && m.Histogram.GetSampleCount() == 1 {
			found = true
		}
	}
	if !found {
		t.Error("expected histogram with 1 sample")
	}
}

func TestCacheCounters(t *testing.T) {
	CacheHitsTotal.Reset()
	CacheMissesTotal.Reset()

	CacheHitsTotal.WithLabelValues("core").Inc()
	CacheHitsTotal.WithLabelValues("core").Inc()
	CacheMissesTotal.WithLabelValues("core").Inc()

	m := &dto.Metric{}
	hits, err := CacheHitsTotal.GetMetricWithLabelValues("core")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = hits.Write(m)
	if m.Counter.GetValue() != 2.0 {
		t.Errorf("expected 2 hits, got %f", m.Counter.GetValue())
	}

	m = &dto.Metric{}
	misses, err := CacheMissesTotal.GetMetricWithLabelValues("core")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = misses.Write(m)
	if m.Counter.GetValue() != 1.0 {
		t.Errorf("expected 1 miss, got %f", m.Counter.GetValue())
	}
}

func TestStatusBucket(t *testing.T) {
	cases := map[int]string{
		102: "1xx",
		200: "2xx",
		204: "2xx",
		301: "3xx",
		404: "4xx",
		500: "5xx",
	}
	for code, want := range cases {
		if got := statusBucket(code); got != want {
			t.Errorf("statusBucket(%d) = %s, want %s", code, got, want)
		}
	}
}
