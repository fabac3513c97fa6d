// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollCycles          prometheus.Counter
	PollFailures        prometheus.Counter
	LiveTransitions     prometheus.Counter
	PostsPublished      prometheus.Counter
	PostsSuppressed     prometheus.Counter
	PostsFailed         prometheus.Counter
	TokenRefreshes      prometheus.Counter
	EmbedFetchFailures  prometheus.Counter

	// Histograms (seconds)
	PollDuration    prometheus.Observer
	PublishDuration prometheus.Observer

	// Gauges
	LiveGauge prometheus.Gauge // 1=live,0=offline
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_poll_cycles_total", Help: "Number of stream status poll cycles"})
		PollFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_poll_failures_total", Help: "Number of failed stream status polls"})
		LiveTransitions = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_live_transitions_total", Help: "Number of offline-to-live transitions detected"})
		PostsPublished = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_posts_published_total", Help: "Number of posts successfully published"})
		PostsSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_posts_suppressed_total", Help: "Number of posts skipped as duplicates"})
		PostsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_posts_failed_total", Help: "Number of posts that failed to send"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_token_refreshes_total", Help: "Number of Twitch app token exchanges"})
		EmbedFetchFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_embed_fetch_failures_total", Help: "Number of link preview fetches that degraded to no embed"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_poll_duration_seconds", Help: "Poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "herald_publish_duration_seconds", Help: "Publish duration seconds", Buckets: prometheus.DefBuckets})
		LiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_channel_live", Help: "Monitored channel live=1 offline=0"})
	})
}

// SetLiveGauge sets gauge to 1 if live else 0.
func SetLiveGauge(live bool) {
	if LiveGauge != nil {
		if live {
			LiveGauge.Set(1)
		} else {
			LiveGauge.Set(0)
		}
	}
}

// IncTokenRefreshes is nil-safe so token exchange works before Init (tests, aux commands).
func IncTokenRefreshes() {
	if TokenRefreshes != nil {
		TokenRefreshes.Inc()
	}
}

// IncEmbedFetchFailures is nil-safe for the same reason.
func IncEmbedFetchFailures() {
	if EmbedFetchFailures != nil {
		EmbedFetchFailures.Inc()
	}
}

// Inc increments a counter if registered; nil-safe so packages can count
// before Init (tests, aux commands).
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
