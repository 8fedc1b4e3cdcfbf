// Package trailing keeps the per-symbol trailing-stop records and runs the
// acceleration-factor ratchet that moves a stop toward price as the position
// makes new favourable extremes.
package trailing

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

// Params bounds the acceleration factor.
type Params struct {
	InitialAF   decimal.Decimal
	AFIncrement decimal.Decimal
	MaxAF       decimal.Decimal
}

// DefaultParams returns the classic Parabolic SAR step of 0.02 capped at 0.2.
func DefaultParams() Params {
	return Params{
		InitialAF:   decimal.RequireFromString("0.02"),
		AFIncrement: decimal.RequireFromString("0.02"),
		MaxAF:       decimal.RequireFromString("0.2"),
	}
}

// Validate checks that 0 < initial <= max and that the increment is not
// negative.
func (p Params) Validate() error {
	if !p.InitialAF.IsPositive() {
		return fmt.Errorf("trailing: initial_af must be > 0, got %s", p.InitialAF)
	}
	if p.MaxAF.LessThan(p.InitialAF) {
		return fmt.Errorf("trailing: max_af %s must be >= initial_af %s", p.MaxAF, p.InitialAF)
	}
	if p.AFIncrement.IsNegative() {
		return fmt.Errorf("trailing: af_increment must be >= 0, got %s", p.AFIncrement)
	}
	return nil
}

// Ledger is the in-memory map of trailing-stop records keyed by symbol.
//
// A single reconciler goroutine mutates the ledger. The lock exists so that
// reporting surfaces can take snapshots concurrently; accessors never hand
// out a pointer into the map.
type Ledger struct {
	params    Params
	mu        sync.RWMutex
	positions map[string]*domain.PositionState
}

// NewLedger creates an empty Ledger. It panics if params are invalid, since a
// bad acceleration range would corrupt every record it touches.
func NewLedger(params Params) *Ledger {
	if err := params.Validate(); err != nil {
		panic(err)
	}
	return &Ledger{
		params:    params,
		positions: make(map[string]*domain.PositionState),
	}
}

// Params returns the acceleration bounds the ledger was built with.
func (l *Ledger) Params() Params {
	return l.params
}

// Upsert registers a position. A new record starts with the extremum at the
// entry price and the acceleration factor at its initial value. For an
// existing record only the stop order id and the activation flag are
// refreshed so re-registration never erases ratchet progress.
//
// The activation flag is OR-ed in, not overwritten: activated=false on an
// active record is ignored. Once trailing has moved the stop to entry, no
// later registration may return the record to the inactive state, where the
// activation check would fire again and push the stop back to entry.
func (l *Ledger) Upsert(symbol string, side domain.Side, entry decimal.Decimal, stopOrderID string, initialStop decimal.Decimal, activated bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st, ok := l.positions[symbol]; ok {
		st.StopOrderID = stopOrderID
		st.TrailingActivated = st.TrailingActivated || activated
		return
	}

	l.positions[symbol] = &domain.PositionState{
		Symbol:             symbol,
		Side:               side,
		EntryPrice:         entry,
		Extremum:           entry,
		AccelerationFactor: l.params.InitialAF,
		CurrentStop:        initialStop,
		StopOrderID:        stopOrderID,
		TrailingActivated:  activated,
	}
}

// Get returns a copy of the record for symbol.
func (l *Ledger) Get(symbol string) (domain.PositionState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.positions[symbol]
	if !ok {
		return domain.PositionState{}, false
	}
	return *st, true
}

// Remove deletes the record for symbol. Removing an unknown symbol is a no-op.
func (l *Ledger) Remove(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.positions, symbol)
}

// SetStopOrderID records the id of a freshly created stop order. It reports
// false when the symbol is not tracked.
func (l *Ledger) SetStopOrderID(symbol, orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.positions[symbol]
	if !ok {
		return false
	}
	st.StopOrderID = orderID
	return true
}

// Activate moves an inactive record to the active state: the stop is seeded
// at the entry price (break-even), the extremum absorbs price and the
// acceleration factor restarts at its initial value. It returns false when
// the symbol is unknown or already active.
func (l *Ledger) Activate(symbol string, price decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.positions[symbol]
	if !ok || st.TrailingActivated {
		return false
	}

	st.TrailingActivated = true
	st.CurrentStop = st.EntryPrice
	st.AccelerationFactor = l.params.InitialAF
	if st.Side == domain.SideShort {
		st.Extremum = decimal.Min(st.Extremum, price)
	} else {
		st.Extremum = decimal.Max(st.Extremum, price)
	}
	return true
}

// UpdateStop runs the ratchet for symbol at price. Nothing happens unless the
// record is active and price makes a new extreme (above the highest seen for
// a long, below the lowest seen for a short). On a new extreme the
// acceleration factor steps up to its cap and the stop closes that fraction
// of the gap to the extreme. It returns true only when a new extreme was
// observed, which is the signal to push the stop to the venue.
func (l *Ledger) UpdateStop(symbol string, price decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.positions[symbol]
	if !ok || !st.TrailingActivated {
		return false
	}

	switch st.Side {
	case domain.SideShort:
		if !price.LessThan(st.Extremum) {
			return false
		}
		st.Extremum = price
		l.stepAF(st)
		movement := st.CurrentStop.Sub(st.Extremum).Mul(st.AccelerationFactor)
		if movement.IsPositive() {
			st.CurrentStop = st.CurrentStop.Sub(movement)
		}
	default:
		if !price.GreaterThan(st.Extremum) {
			return false
		}
		st.Extremum = price
		l.stepAF(st)
		movement := st.Extremum.Sub(st.CurrentStop).Mul(st.AccelerationFactor)
		if movement.IsPositive() {
			st.CurrentStop = st.CurrentStop.Add(movement)
		}
	}
	return true
}

func (l *Ledger) stepAF(st *domain.PositionState) {
	st.AccelerationFactor = decimal.Min(st.AccelerationFactor.Add(l.params.AFIncrement), l.params.MaxAF)
}

// Symbols returns the tracked symbols in sorted order.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns copies of every record, sorted by symbol.
func (l *Ledger) Snapshot() []domain.PositionState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.PositionState, 0, len(l.positions))
	for _, st := range l.positions {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of tracked symbols.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}
