package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailstop/internal/domain"
	"github.com/alanyoungcy/trailstop/internal/metrics"
	"github.com/alanyoungcy/trailstop/internal/venue/paper"
)

func newPaper(t *testing.T) *paper.Venue {
	t.Helper()
	v := paper.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := v.Open(paper.Seed{
		Symbol: "BTCUSDT", Side: domain.SideLong, Contracts: decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromInt(100), StopPrice: decimal.NewFromInt(95),
		TPPrice: decimal.NewFromInt(130), Price: decimal.NewFromInt(101),
	}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return v
}

func TestVenue_PassesThrough(t *testing.T) {
	v := New(newPaper(t), 1000, 10, metrics.New(prometheus.NewRegistry()))
	ctx := context.Background()

	positions, err := v.FetchPositions(ctx)
	if err != nil || len(positions) != 1 {
		t.Fatalf("FetchPositions() = %v, %v", positions, err)
	}
	price, err := v.FetchPrice(ctx, "BTCUSDT")
	if err != nil || !price.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("FetchPrice() = %s, %v", price, err)
	}
	pair, err := v.FetchStopTakeProfit(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchStopTakeProfit() error = %v", err)
	}
	if err := v.CancelOrders(ctx, pair.OrderIDs(), "BTCUSDT"); err != nil {
		t.Fatalf("CancelOrders() error = %v", err)
	}
	if _, err := v.CreateStopTakeProfit(ctx, "BTCUSDT", domain.SideLong, decimal.NewFromInt(100), pair.TPTriggerPrice); err != nil {
		t.Fatalf("CreateStopTakeProfit() error = %v", err)
	}
}

func TestVenue_WaitHonoursDeadline(t *testing.T) {
	// One token per hour: the second call cannot be served in time.
	v := New(newPaper(t), 1.0/3600, 1, nil)

	if _, err := v.FetchPositions(context.Background()); err != nil {
		t.Fatalf("first call error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := v.FetchPrice(ctx, "BTCUSDT")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("second call error = %v, want ErrRateLimited", err)
	}
}
