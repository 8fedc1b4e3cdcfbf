// Package metrics exposes Prometheus instruments for the reconciliation loop
// and the HTTP API.
//
//   - trailstop_reconcile_cycles_total{result}        cycles by ok|failed
//   - trailstop_reconcile_cycle_seconds               cycle duration
//   - trailstop_tracked_positions                     ledger size after a cycle
//   - trailstop_activations_total                     trailing activations pushed
//   - trailstop_stop_pushes_total{reason}             stop replacements (activation|ratchet)
//   - trailstop_stop_skips_total                      ratchets below the update threshold
//   - trailstop_drift_removals_total{reason}          ledger removals by drift reason
//   - trailstop_symbol_failures_total{stage}          per-symbol failures by stage
//   - trailstop_venue_wait_seconds                    time spent waiting on the venue rate limiter
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trailstop"

// Metrics holds every instrument. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	Cycles         *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	Tracked        prometheus.Gauge
	Activations    prometheus.Counter
	StopPushes     *prometheus.CounterVec
	StopSkips      prometheus.Counter
	DriftRemovals  *prometheus.CounterVec
	SymbolFailures *prometheus.CounterVec
	VenueWait      prometheus.Histogram
	gatherer       prometheus.Gatherer
}

// New registers the instruments on reg. Pass prometheus.NewRegistry() in
// tests to avoid collisions with the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cycles_total",
			Help:      "Reconciliation cycles by result.",
		}, []string{"result"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cycle_seconds",
			Help:      "Wall time of one reconciliation cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Tracked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_positions",
			Help:      "Positions held in the trailing-stop ledger.",
		}),
		Activations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Trailing activations pushed to the venue.",
		}),
		StopPushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_pushes_total",
			Help:      "Stop order replacements by reason.",
		}, []string{"reason"}),
		StopSkips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_skips_total",
			Help:      "Ratchet moves not pushed because they were under the update threshold.",
		}),
		DriftRemovals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_removals_total",
			Help:      "Ledger records dropped because the venue no longer backs them.",
		}, []string{"reason"}),
		SymbolFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbol_failures_total",
			Help:      "Per-symbol reconciliation failures by stage.",
		}, []string{"stage"}),
		VenueWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for the venue rate limiter.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// CycleDone records the outcome of one cycle.
func (m *Metrics) CycleDone(ok bool, seconds float64, tracked int) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Cycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(seconds)
	m.Tracked.Set(float64(tracked))
}

// Activated counts a pushed activation.
func (m *Metrics) Activated() {
	if m == nil {
		return
	}
	m.Activations.Inc()
	m.StopPushes.WithLabelValues("activation").Inc()
}

// Pushed counts a ratchet push.
func (m *Metrics) Pushed() {
	if m == nil {
		return
	}
	m.StopPushes.WithLabelValues("ratchet").Inc()
}

// Skipped counts a ratchet move held back by the update threshold.
func (m *Metrics) Skipped() {
	if m == nil {
		return
	}
	m.StopSkips.Inc()
}

// Removed counts a drift removal.
func (m *Metrics) Removed(reason string) {
	if m == nil {
		return
	}
	m.DriftRemovals.WithLabelValues(reason).Inc()
}

// Failed counts a per-symbol failure at stage.
func (m *Metrics) Failed(stage string) {
	if m == nil {
		return
	}
	m.SymbolFailures.WithLabelValues(stage).Inc()
}

// Waited records time spent blocked on the venue limiter.
func (m *Metrics) Waited(seconds float64) {
	if m == nil {
		return
	}
	m.VenueWait.Observe(seconds)
}
