package domain

import "time"

// Channels and streams used for reconciliation events.
const (
	ChannelEvents = "trailstop:events"
	StreamEvents  = "trailstop:stream"
	ChannelTrades = "trailstop:trades"
)

// Event kinds published by the reconciler.
const (
	EventTrailingActivated = "trailing_activated"
	EventStopUpdated       = "stop_updated"
	EventPositionRemoved   = "position_removed"
	EventPositionTracked   = "position_tracked"
	EventReconcileFailed   = "reconcile_failed"
	EventTradeRecorded     = "trade_recorded"
	EventTradesImported    = "trades_imported"
)

// StopEvent is the JSON payload published for every ledger transition the
// reconciler pushes or repairs.
type StopEvent struct {
	Event      string    `json:"event"`
	CycleID    string    `json:"cycle_id,omitempty"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side,omitempty"`
	Entry      string    `json:"entry_price,omitempty"`
	Stop       string    `json:"stop_price,omitempty"`
	TakeProfit string    `json:"tp_price,omitempty"`
	Price      string    `json:"price,omitempty"`
	AF         string    `json:"acceleration_factor,omitempty"`
	OrderID    string    `json:"stop_order_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
