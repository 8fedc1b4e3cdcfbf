// Package costbasis replays a spot trade ledger into current holdings and a
// weighted average acquisition price.
package costbasis

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

// Option configures an Engine.
type Option func(*Engine)

// WithDisposalFeeInBasis deducts the fee of every disposal from the remaining
// cost basis instead of leaving the basis untouched. With this option a
// partial sell lowers the average price of the units still held.
func WithDisposalFeeInBasis() Option {
	return func(e *Engine) { e.disposalFeeInBasis = true }
}

// Engine computes weighted-average cost over a trade sequence. It keeps no
// state between calls.
type Engine struct {
	disposalFeeInBasis bool
	logger             *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{logger: logger.With(slog.String("component", "costbasis"))}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Result is the outcome of a replay.
type Result struct {
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
	TotalCost    decimal.Decimal
	// Oversold counts disposals that exceeded the quantity held at the time.
	Oversold int
}

// Compute returns the held quantity and its average price for one symbol's
// trades. It is (0, 0) when nothing is held.
func (e *Engine) Compute(trades []domain.TradeRecord) (quantity, averagePrice decimal.Decimal) {
	r := e.Replay(trades)
	return r.Quantity, r.AveragePrice
}

// Replay walks trades in timestamp order. Records with equal timestamps keep
// their input order. The input slice is not modified.
func (e *Engine) Replay(trades []domain.TradeRecord) Result {
	ordered := make([]domain.TradeRecord, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var (
		qty      = decimal.Zero
		cost     = decimal.Zero
		oversold int
	)

	for _, t := range ordered {
		switch t.Type {
		case domain.TradeAcquire:
			cost = cost.Add(t.Price.Mul(t.Quantity)).Add(t.Fee)
			qty = qty.Add(t.Quantity)

		case domain.TradeDispose:
			sellQty := decimal.Min(t.Quantity, qty)
			if t.Quantity.GreaterThan(qty) {
				oversold++
				e.logger.Warn("costbasis: disposal exceeds holdings, clamping to zero",
					slog.String("symbol", t.Symbol),
					slog.String("held", qty.String()),
					slog.String("disposed", t.Quantity.String()),
					slog.Time("timestamp", t.Timestamp),
				)
			}
			if qty.IsPositive() {
				avg := cost.Div(qty)
				cost = cost.Sub(avg.Mul(sellQty))
				if e.disposalFeeInBasis {
					cost = cost.Sub(t.Fee)
				}
			}
			qty = qty.Sub(sellQty)
			if !qty.IsPositive() {
				qty = decimal.Zero
				cost = decimal.Zero
			}

		default:
			e.logger.Warn("costbasis: skipping trade with unknown type",
				slog.String("symbol", t.Symbol),
				slog.String("type", string(t.Type)),
			)
		}
	}

	if !qty.IsPositive() {
		return Result{Quantity: decimal.Zero, AveragePrice: decimal.Zero, TotalCost: decimal.Zero, Oversold: oversold}
	}
	return Result{
		Quantity:     qty,
		AveragePrice: cost.Div(qty),
		TotalCost:    cost,
		Oversold:     oversold,
	}
}
