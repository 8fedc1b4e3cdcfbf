// Package ratelimit wraps a venue with a token bucket shared by every call.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/trailstop/internal/domain"
	"github.com/alanyoungcy/trailstop/internal/metrics"
)

// Venue delays calls to the wrapped venue so they stay under a fixed rate.
type Venue struct {
	next    domain.Venue
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// New wraps next with a limiter of perSec calls per second and the given
// burst. m may be nil.
func New(next domain.Venue, perSec float64, burst int, m *metrics.Metrics) *Venue {
	return &Venue{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSec), max(burst, 1)),
		metrics: m,
	}
}

func (v *Venue) wait(ctx context.Context, call string) error {
	start := time.Now()
	if err := v.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: %s: %w: %w", call, domain.ErrRateLimited, err)
	}
	v.metrics.Waited(time.Since(start).Seconds())
	return nil
}

func (v *Venue) FetchPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	if err := v.wait(ctx, "fetch positions"); err != nil {
		return nil, err
	}
	return v.next.FetchPositions(ctx)
}

func (v *Venue) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := v.wait(ctx, "fetch price"); err != nil {
		return decimal.Zero, err
	}
	return v.next.FetchPrice(ctx, symbol)
}

func (v *Venue) FetchStopTakeProfit(ctx context.Context, symbol string) (domain.StopTakeProfit, error) {
	if err := v.wait(ctx, "fetch orders"); err != nil {
		return domain.StopTakeProfit{}, err
	}
	return v.next.FetchStopTakeProfit(ctx, symbol)
}

func (v *Venue) CancelOrders(ctx context.Context, orderIDs []string, symbol string) error {
	if err := v.wait(ctx, "cancel orders"); err != nil {
		return err
	}
	return v.next.CancelOrders(ctx, orderIDs, symbol)
}

func (v *Venue) CreateStopTakeProfit(ctx context.Context, symbol string, side domain.Side, stopTrigger, tpTrigger decimal.Decimal) (domain.OrderPair, error) {
	if err := v.wait(ctx, "create orders"); err != nil {
		return domain.OrderPair{}, err
	}
	return v.next.CreateStopTakeProfit(ctx, symbol, side, stopTrigger, tpTrigger)
}

var _ domain.Venue = (*Venue)(nil)
