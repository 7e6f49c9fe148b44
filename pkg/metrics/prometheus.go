package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisions *prometheus.CounterVec
	errors    *prometheus.CounterVec
	patterns  *prometheus.CounterVec
	lastPrice *prometheus.GaugeVec
	latency   *prometheus.HistogramVec
}

// New creates a recorder registered on reg (prometheus.DefaultRegisterer in the app,
// a fresh registry in tests).
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pivotpull_decisions_total",
				Help: "Signal engine decisions by action and rule",
			},
			[]string{"action", "rule"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pivotpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		patterns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pivotpull_patterns_normalized_total",
				Help: "Cup-with-handle patterns produced by the normalizer",
			},
			[]string{"symbol"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pivotpull_last_price",
				Help: "Last replayed close for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pivotpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordDecision counts an engine decision.
func (r *Recorder) RecordDecision(action, rule string) {
	r.decisions.WithLabelValues(action, rule).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errors.WithLabelValues(kind).Inc()
}

// RecordPatterns adds n normalized patterns for symbol.
func (r *Recorder) RecordPatterns(symbol string, n int) {
	r.patterns.WithLabelValues(symbol).Add(float64(n))
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
