package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

// StopUpdater moves the stop trigger of a position on the venue while keeping
// its take-profit trigger. Venues that support an atomic trigger edit can
// provide their own implementation; the reconciler does not care how the
// replacement happens.
type StopUpdater interface {
	UpdateStop(ctx context.Context, symbol string, side domain.Side, current domain.StopTakeProfit, newStop decimal.Decimal) (domain.OrderPair, error)
}

// CancelRecreateUpdater replaces the whole stop/take-profit pair: both orders
// are cancelled and a new pair is created at the new stop and the old
// take-profit trigger. The position is unprotected between the two calls.
type CancelRecreateUpdater struct {
	venue  domain.Venue
	logger *slog.Logger
}

// NewCancelRecreateUpdater creates a CancelRecreateUpdater.
func NewCancelRecreateUpdater(venue domain.Venue, logger *slog.Logger) *CancelRecreateUpdater {
	return &CancelRecreateUpdater{
		venue:  venue,
		logger: logger.With(slog.String("component", "stop_updater")),
	}
}

// UpdateStop cancels the current pair and creates the replacement.
func (u *CancelRecreateUpdater) UpdateStop(
	ctx context.Context,
	symbol string,
	side domain.Side,
	current domain.StopTakeProfit,
	newStop decimal.Decimal,
) (domain.OrderPair, error) {
	if ids := current.OrderIDs(); len(ids) > 0 {
		if err := u.venue.CancelOrders(ctx, ids, symbol); err != nil {
			return domain.OrderPair{}, fmt.Errorf("stop_updater: cancel %s: %w", symbol, err)
		}
	}

	pair, err := u.venue.CreateStopTakeProfit(ctx, symbol, side, newStop, current.TPTriggerPrice)
	if err != nil {
		u.logger.ErrorContext(ctx, "stop_updater: orders cancelled but replacement failed, position is unprotected",
			slog.String("symbol", symbol),
			slog.String("stop", newStop.String()),
			slog.String("tp", current.TPTriggerPrice.String()),
			slog.String("error", err.Error()),
		)
		return domain.OrderPair{}, fmt.Errorf("stop_updater: create %s: %w", symbol, err)
	}

	u.logger.InfoContext(ctx, "stop_updater: replaced stop/take-profit pair",
		slog.String("symbol", symbol),
		slog.String("old_stop_order_id", current.StopOrderID),
		slog.String("new_stop_order_id", pair.StopOrderID),
		slog.String("stop", newStop.String()),
	)
	return pair, nil
}

var _ StopUpdater = (*CancelRecreateUpdater)(nil)
