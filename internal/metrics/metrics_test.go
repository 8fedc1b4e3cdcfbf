package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CycleDone(true, 0.1, 3)
	m.Activated()
	m.Pushed()
	m.Skipped()
	m.Removed("closed")
	m.Failed("price")
	m.Waited(0.01)
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.CycleDone(false, 0.2, 2)
	m.Removed("order_missing")
	m.Activated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`trailstop_reconcile_cycles_total{result="failed"} 1`,
		`trailstop_drift_removals_total{reason="order_missing"} 1`,
		`trailstop_stop_pushes_total{reason="activation"} 1`,
		`trailstop_tracked_positions 2`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
