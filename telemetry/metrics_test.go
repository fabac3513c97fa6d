package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	first := PollCycles
	Init()
	if PollCycles != first {
		t.Error("Init() re-registered metrics")
	}
	if PollCycles == nil || PostsPublished == nil || PostsSuppressed == nil || LiveGauge == nil {
		t.Error("metrics not initialized")
	}
}

func TestIncNilSafe(t *testing.T) {
	// Must not panic before Init registers anything
	Inc(nil)
	IncTokenRefreshes()
	IncEmbedFetchFailures()
	SetLiveGauge(true)
}

func TestSetLiveGauge(t *testing.T) {
	Init()

	SetLiveGauge(true)
	metric := &dto.Metric{}
	if err := LiveGauge.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if *metric.Gauge.Value != 1 {
		t.Errorf("live gauge = %v, want 1", *metric.Gauge.Value)
	}

	SetLiveGauge(false)
	metric = &dto.Metric{}
	if err := LiveGauge.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if *metric.Gauge.Value != 0 {
		t.Errorf("live gauge = %v, want 0", *metric.Gauge.Value)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Histogram == nil || *metric.Histogram.SampleCount == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelationHelpers(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation(empty ctx) = %q, want empty", got)
	}

	ctx = WithCorrelation(ctx, "corr-123")
	if got := GetCorrelation(ctx); got != "corr-123" {
		t.Errorf("GetCorrelation() = %q, want corr-123", got)
	}

	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
	if LoggerWithCorr(context.Background()) == nil {
		t.Error("LoggerWithCorr without corr returned nil")
	}
}
