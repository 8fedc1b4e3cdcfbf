package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

const alertTimeLayout = "2006/01/02 15:04:05"

// formatAlert renders a notification title and single-line body for evt,
// with the timestamp shown in loc.
func formatAlert(evt domain.StopEvent, loc *time.Location) (string, string) {
	ts := evt.Timestamp.In(loc).Format(alertTimeLayout)
	side := sideLabel(evt.Side)

	switch evt.Event {
	case domain.EventTrailingActivated:
		return "Trailing stop activated",
			fmt.Sprintf("%-20s %s %s | price %s | stop moved to entry %s (TP %s)",
				ts, evt.Symbol, side, evt.Price, evt.Stop, evt.TakeProfit)
	case domain.EventStopUpdated:
		return "Trailing stop updated",
			fmt.Sprintf("%-20s %s %s | price %s | stop %s (AF %s, TP %s)",
				ts, evt.Symbol, side, evt.Price, evt.Stop, evt.AF, evt.TakeProfit)
	case domain.EventPositionRemoved:
		return "Trailing stop released",
			fmt.Sprintf("%-20s %s %s | %s", ts, evt.Symbol, side, reasonLabel(evt.Reason))
	case domain.EventPositionTracked:
		return "Position tracked",
			fmt.Sprintf("%-20s %s %s | entry %s | stop %s | TP %s",
				ts, evt.Symbol, side, evt.Entry, evt.Stop, evt.TakeProfit)
	case domain.EventReconcileFailed:
		return "Reconciliation failed",
			fmt.Sprintf("%-20s %s | %s", ts, evt.Symbol, evt.Reason)
	default:
		return evt.Event, fmt.Sprintf("%-20s %s", ts, evt.Symbol)
	}
}

func sideLabel(s domain.Side) string {
	switch s {
	case domain.SideLong:
		return "Long"
	case domain.SideShort:
		return "Short"
	default:
		return ""
	}
}

func reasonLabel(reason string) string {
	switch reason {
	case ReasonPositionClosed:
		return "position closed on venue"
	case ReasonOrderMissing:
		return "stop/take-profit order no longer on venue"
	case ReasonSideChanged:
		return "position side changed on venue"
	default:
		return strings.ReplaceAll(reason, "_", " ")
	}
}
