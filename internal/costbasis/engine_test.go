package costbasis

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(typ domain.TradeType, price, qty, fee string, minute int) domain.TradeRecord {
	return domain.TradeRecord{
		Symbol:    "BTC",
		Type:      typ,
		Price:     d(price),
		Quantity:  d(qty),
		Fee:       d(fee),
		Timestamp: t0.Add(time.Duration(minute) * time.Minute),
	}
}

func quietEngine(opts ...Option) *Engine {
	return NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestWeightedAverageScenario(t *testing.T) {
	e := quietEngine()
	trades := []domain.TradeRecord{
		trade(domain.TradeAcquire, "50000", "1.0", "50", 0),
	}

	qty, avg := e.Compute(trades)
	if !qty.Equal(d("1")) || !avg.Equal(d("50050")) {
		t.Fatalf("after first buy: got (%s, %s), want (1, 50050)", qty, avg)
	}

	trades = append(trades, trade(domain.TradeAcquire, "60000", "2.0", "100", 1))
	r := e.Replay(trades)
	if !r.TotalCost.Equal(d("170150")) || !r.Quantity.Equal(d("3")) {
		t.Fatalf("after second buy: cost %s qty %s, want 170150 and 3", r.TotalCost, r.Quantity)
	}
	wantAvg := r.AveragePrice.Round(2)
	if !wantAvg.Equal(d("56716.67")) {
		t.Fatalf("after second buy: avg %s, want ~56716.67", r.AveragePrice)
	}

	trades = append(trades, trade(domain.TradeDispose, "55000", "1.5", "75", 2))
	r2 := e.Replay(trades)
	if !r2.Quantity.Equal(d("1.5")) {
		t.Errorf("after sell: qty %s, want 1.5", r2.Quantity)
	}
	if !r2.AveragePrice.Round(8).Equal(r.AveragePrice.Round(8)) {
		t.Errorf("after sell: avg %s, want unchanged %s", r2.AveragePrice, r.AveragePrice)
	}
}

func TestDisposalFeeInBasisLowersAverage(t *testing.T) {
	e := quietEngine(WithDisposalFeeInBasis())
	trades := []domain.TradeRecord{
		trade(domain.TradeAcquire, "100", "10", "0", 0),
		trade(domain.TradeDispose, "120", "5", "10", 1),
	}
	qty, avg := e.Compute(trades)
	// cost 1000 - 500 - 10 = 490 over 5 units.
	if !qty.Equal(d("5")) || !avg.Equal(d("98")) {
		t.Errorf("got (%s, %s), want (5, 98)", qty, avg)
	}
}

func TestOversellClampsToZero(t *testing.T) {
	var buf bytes.Buffer
	e := NewEngine(slog.New(slog.NewTextHandler(&buf, nil)))
	trades := []domain.TradeRecord{
		trade(domain.TradeAcquire, "50000", "1.0", "50", 0),
		trade(domain.TradeDispose, "51000", "2.0", "0", 1),
	}
	r := e.Replay(trades)
	if !r.Quantity.IsZero() || !r.AveragePrice.IsZero() {
		t.Errorf("got (%s, %s), want (0, 0)", r.Quantity, r.AveragePrice)
	}
	if r.Oversold != 1 {
		t.Errorf("Oversold = %d, want 1", r.Oversold)
	}
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("expected a warning log, got %q", buf.String())
	}
}

func TestRoundTripStartsFreshBasis(t *testing.T) {
	e := quietEngine()
	trades := []domain.TradeRecord{
		trade(domain.TradeAcquire, "10", "4", "2", 0),
		trade(domain.TradeDispose, "30", "4", "1", 1),
		trade(domain.TradeAcquire, "200", "2", "0", 2),
	}
	qty, avg := e.Compute(trades)
	if !qty.Equal(d("2")) || !avg.Equal(d("200")) {
		t.Errorf("got (%s, %s), want (2, 200)", qty, avg)
	}
}

func TestReplaySortsByTimestamp(t *testing.T) {
	e := quietEngine()
	// A sell recorded before the buy it follows in time.
	trades := []domain.TradeRecord{
		trade(domain.TradeDispose, "120", "1", "0", 5),
		trade(domain.TradeAcquire, "100", "2", "0", 0),
	}
	qty, avg := e.Compute(trades)
	if !qty.Equal(d("1")) || !avg.Equal(d("100")) {
		t.Errorf("got (%s, %s), want (1, 100)", qty, avg)
	}
	if trades[0].Type != domain.TradeDispose {
		t.Error("Compute reordered the caller's slice")
	}
}

func TestEmptyLedger(t *testing.T) {
	qty, avg := quietEngine().Compute(nil)
	if !qty.IsZero() || !avg.IsZero() {
		t.Errorf("got (%s, %s), want (0, 0)", qty, avg)
	}
}
