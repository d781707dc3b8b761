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
	PollTicks       prometheus.Counter
	TicksSkipped    prometheus.Counter
	ChatItems       prometheus.Counter
	SessionsStarted prometheus.Counter
	SessionsEnded   prometheus.Counter
	HubDropped      prometheus.Counter
	PollErrors      *prometheus.CounterVec // label: stage (resolve|fetch|precondition)

	// Histograms (seconds)
	FetchDuration   prometheus.Observer
	ResolveDuration prometheus.Observer

	// Gauges
	CircuitOpenGauge prometheus.Gauge // 1=open,0=closed
	HubSubscribers   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollTicks = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_ticks_total", Help: "Number of poll ticks executed"})
		TicksSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_ticks_skipped_total", Help: "Ticks skipped because the previous fetch was still in flight"})
		ChatItems = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_chat_items_total", Help: "Chat items emitted"})
		SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_sessions_started_total", Help: "Live sessions adopted by the poller"})
		SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_sessions_ended_total", Help: "Live sessions ended (stop or rollover)"})
		HubDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_hub_dropped_total", Help: "Chat items dropped for slow relay subscribers"})
		PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "livechat_errors_total", Help: "Errors emitted by the poller"}, []string{"stage"})
		FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livechat_fetch_duration_seconds", Help: "Chat page fetch duration seconds", Buckets: prometheus.DefBuckets})
		ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livechat_resolve_duration_seconds", Help: "Live session resolution duration seconds", Buckets: prometheus.DefBuckets})
		CircuitOpenGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "livechat_circuit_open", Help: "Fetch circuit breaker open=1 closed=0"})
		HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{Name: "livechat_hub_subscribers", Help: "Current number of relay subscribers"})
	})
}

// Inc increments c when metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// Add adds n to c when metrics are initialized.
func Add(c prometheus.Counter, n int) {
	if c != nil && n > 0 {
		c.Add(float64(n))
	}
}

// IncPollError counts an emitted error for the given stage.
func IncPollError(stage string) {
	if PollErrors != nil {
		PollErrors.WithLabelValues(stage).Inc()
	}
}

// UpdateCircuitGauge sets gauge to 1 if open else 0.
func UpdateCircuitGauge(open bool) {
	if CircuitOpenGauge == nil {
		return
	}
	if open {
		CircuitOpenGauge.Set(1)
	} else {
		CircuitOpenGauge.Set(0)
	}
}

// SetHubSubscribers records the current relay subscriber count.
func SetHubSubscribers(n int) {
	if HubSubscribers != nil {
		HubSubscribers.Set(float64(n))
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
