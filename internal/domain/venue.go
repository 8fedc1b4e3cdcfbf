package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Venue is the query/mutate surface of the trading venue that holds the
// positions and their stop/take-profit orders. The venue is authoritative.
type Venue interface {
	FetchPositions(ctx context.Context) ([]VenuePosition, error)
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// FetchStopTakeProfit returns ErrOrderNotFound when either leg of the
	// pair is missing.
	FetchStopTakeProfit(ctx context.Context, symbol string) (StopTakeProfit, error)
	CancelOrders(ctx context.Context, orderIDs []string, symbol string) error
	CreateStopTakeProfit(ctx context.Context, symbol string, side Side, stopTrigger, tpTrigger decimal.Decimal) (OrderPair, error)
}

// NotificationSink delivers side-channel alerts. Callers treat it as
// fire-and-forget: a returned error is logged and otherwise ignored.
type NotificationSink interface {
	Notify(ctx context.Context, event, title, message string) error
}
