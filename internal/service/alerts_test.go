package service

import (
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

func TestFormatAlert(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	ts := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		evt       domain.StopEvent
		wantTitle string
		wantParts []string
	}{
		{
			name: "activated",
			evt: domain.StopEvent{
				Event: domain.EventTrailingActivated, Symbol: "BTCUSDT", Side: domain.SideLong,
				Price: "101", Stop: "100", TakeProfit: "130", Timestamp: ts,
			},
			wantTitle: "Trailing stop activated",
			wantParts: []string{"2026/01/02 09:00:00", "BTCUSDT Long", "entry 100", "TP 130"},
		},
		{
			name: "updated",
			evt: domain.StopEvent{
				Event: domain.EventStopUpdated, Symbol: "ETHUSDT", Side: domain.SideShort,
				Price: "90", Stop: "99.6", AF: "0.04", TakeProfit: "80", Timestamp: ts,
			},
			wantTitle: "Trailing stop updated",
			wantParts: []string{"ETHUSDT Short", "stop 99.6", "AF 0.04"},
		},
		{
			name: "removed",
			evt: domain.StopEvent{
				Event: domain.EventPositionRemoved, Symbol: "SOLUSDT", Side: domain.SideLong,
				Reason: ReasonOrderMissing, Timestamp: ts,
			},
			wantTitle: "Trailing stop released",
			wantParts: []string{"order no longer on venue"},
		},
		{
			name: "failed",
			evt: domain.StopEvent{
				Event: domain.EventReconcileFailed, Symbol: "XRPUSDT", Reason: "fetch_price: timeout", Timestamp: ts,
			},
			wantTitle: "Reconciliation failed",
			wantParts: []string{"XRPUSDT", "fetch_price: timeout"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body := formatAlert(tt.evt, jst)
			if title != tt.wantTitle {
				t.Errorf("title = %q, want %q", title, tt.wantTitle)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(body, part) {
					t.Errorf("body %q missing %q", body, part)
				}
			}
		})
	}
}
