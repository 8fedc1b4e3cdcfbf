// Package paper is an in-memory venue for dry runs. Prices are set by hand
// and protective orders trigger against them, closing the position.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

// Seed describes a position to open on the paper venue together with its
// protective orders. A zero Price leaves the symbol unpriced.
type Seed struct {
	Symbol     string
	Side       domain.Side
	Contracts  decimal.Decimal
	EntryPrice decimal.Decimal
	StopPrice  decimal.Decimal
	TPPrice    decimal.Decimal
	Price      decimal.Decimal
}

type orderKind int

const (
	kindStop orderKind = iota
	kindTakeProfit
)

type order struct {
	id      string
	symbol  string
	kind    orderKind
	trigger decimal.Decimal
}

// Venue keeps positions, prices and trigger orders in memory.
type Venue struct {
	mu        sync.Mutex
	positions map[string]domain.VenuePosition
	prices    map[string]decimal.Decimal
	orders    map[string]order
	logger    *slog.Logger
}

// New creates an empty paper venue.
func New(logger *slog.Logger) *Venue {
	return &Venue{
		positions: make(map[string]domain.VenuePosition),
		prices:    make(map[string]decimal.Decimal),
		orders:    make(map[string]order),
		logger:    logger.With(slog.String("component", "paper_venue")),
	}
}

// Open adds a position and, when both triggers are set, its stop/take-profit
// pair. An existing position for the symbol is replaced.
func (v *Venue) Open(s Seed) error {
	if s.Symbol == "" {
		return fmt.Errorf("paper: open: symbol is required")
	}
	if s.Side != domain.SideLong && s.Side != domain.SideShort {
		return fmt.Errorf("paper: open %s: unknown side %q", s.Symbol, s.Side)
	}
	if !s.Contracts.IsPositive() {
		return fmt.Errorf("paper: open %s: contracts must be > 0", s.Symbol)
	}
	if err := domain.ValidatePrice(s.EntryPrice); err != nil {
		return fmt.Errorf("paper: open %s: entry: %w", s.Symbol, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.dropOrders(s.Symbol)
	v.positions[s.Symbol] = domain.VenuePosition{
		Symbol:     s.Symbol,
		Side:       s.Side,
		Contracts:  s.Contracts,
		EntryPrice: s.EntryPrice,
	}
	if s.StopPrice.IsPositive() && s.TPPrice.IsPositive() {
		v.place(s.Symbol, s.StopPrice, s.TPPrice)
	}
	if s.Price.IsPositive() {
		v.prices[s.Symbol] = s.Price
	}
	return nil
}

// SetPrice updates the last price of symbol and fires any trigger it
// crosses. It reports whether the position was closed by a trigger.
func (v *Venue) SetPrice(symbol string, price decimal.Decimal) (bool, error) {
	if err := domain.ValidatePrice(price); err != nil {
		return false, fmt.Errorf("paper: set price %s: %w", symbol, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.prices[symbol] = price
	pos, ok := v.positions[symbol]
	if !ok {
		return false, nil
	}

	for _, o := range v.ordersFor(symbol) {
		if !triggered(pos.Side, o, price) {
			continue
		}
		v.logger.Info("paper: trigger fired, position closed",
			slog.String("symbol", symbol),
			slog.String("order_id", o.id),
			slog.String("trigger", o.trigger.String()),
			slog.String("price", price.String()),
		)
		delete(v.positions, symbol)
		v.dropOrders(symbol)
		return true, nil
	}
	return false, nil
}

// triggered reports whether price crosses o for a position on side.
func triggered(side domain.Side, o order, price decimal.Decimal) bool {
	stopBelow := side == domain.SideLong
	if o.kind == kindTakeProfit {
		stopBelow = !stopBelow
	}
	if stopBelow {
		return price.LessThanOrEqual(o.trigger)
	}
	return price.GreaterThanOrEqual(o.trigger)
}

// FetchPositions returns the open positions sorted by symbol.
func (v *Venue) FetchPositions(_ context.Context) ([]domain.VenuePosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]domain.VenuePosition, 0, len(v.positions))
	for _, p := range v.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// FetchPrice returns the last price set for symbol.
func (v *Venue) FetchPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("paper: no price for %s: %w", symbol, domain.ErrNotFound)
	}
	return p, nil
}

// FetchStopTakeProfit returns the pair for symbol, or domain.ErrOrderNotFound
// when either leg is missing.
func (v *Venue) FetchStopTakeProfit(_ context.Context, symbol string) (domain.StopTakeProfit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var pair domain.StopTakeProfit
	for _, o := range v.ordersFor(symbol) {
		switch o.kind {
		case kindStop:
			pair.StopOrderID, pair.StopTriggerPrice = o.id, o.trigger
		case kindTakeProfit:
			pair.TPOrderID, pair.TPTriggerPrice = o.id, o.trigger
		}
	}
	if pair.StopOrderID == "" || pair.TPOrderID == "" {
		return domain.StopTakeProfit{}, fmt.Errorf("paper: %s: %w", symbol, domain.ErrOrderNotFound)
	}
	return pair, nil
}

// CancelOrders cancels every id. Nothing is cancelled if any id is unknown
// or belongs to another symbol.
func (v *Venue) CancelOrders(_ context.Context, orderIDs []string, symbol string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, id := range orderIDs {
		if o, ok := v.orders[id]; !ok || o.symbol != symbol {
			return fmt.Errorf("paper: cancel %s on %s: %w", id, symbol, domain.ErrOrderNotFound)
		}
	}
	for _, id := range orderIDs {
		delete(v.orders, id)
	}
	return nil
}

// CreateStopTakeProfit places a new pair for an open position.
func (v *Venue) CreateStopTakeProfit(_ context.Context, symbol string, side domain.Side, stopTrigger, tpTrigger decimal.Decimal) (domain.OrderPair, error) {
	if err := domain.ValidatePrice(stopTrigger); err != nil {
		return domain.OrderPair{}, fmt.Errorf("paper: create %s: stop: %w", symbol, err)
	}
	if err := domain.ValidatePrice(tpTrigger); err != nil {
		return domain.OrderPair{}, fmt.Errorf("paper: create %s: take-profit: %w", symbol, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	pos, ok := v.positions[symbol]
	if !ok {
		return domain.OrderPair{}, fmt.Errorf("paper: create %s: position: %w", symbol, domain.ErrNotFound)
	}
	if pos.Side != side {
		return domain.OrderPair{}, fmt.Errorf("paper: create %s: side %s does not match position side %s", symbol, side, pos.Side)
	}
	return v.place(symbol, stopTrigger, tpTrigger), nil
}

func (v *Venue) place(symbol string, stop, tp decimal.Decimal) domain.OrderPair {
	pair := domain.OrderPair{
		StopOrderID: uuid.NewString(),
		TPOrderID:   uuid.NewString(),
	}
	v.orders[pair.StopOrderID] = order{id: pair.StopOrderID, symbol: symbol, kind: kindStop, trigger: stop}
	v.orders[pair.TPOrderID] = order{id: pair.TPOrderID, symbol: symbol, kind: kindTakeProfit, trigger: tp}
	return pair
}

func (v *Venue) ordersFor(symbol string) []order {
	var out []order
	for _, o := range v.orders {
		if o.symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].kind < out[j].kind })
	return out
}

func (v *Venue) dropOrders(symbol string) {
	for id, o := range v.orders {
		if o.symbol == symbol {
			delete(v.orders, id)
		}
	}
}

var _ domain.Venue = (*Venue)(nil)
