package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type createCall struct {
	symbol string
	side   domain.Side
	stop   decimal.Decimal
	tp     decimal.Decimal
}

// fakeVenue is an in-memory venue with injectable failures.
type fakeVenue struct {
	mu           sync.Mutex
	positions    []domain.VenuePosition
	positionsErr error
	prices       map[string]decimal.Decimal
	priceErr     map[string]error
	pairs        map[string]domain.StopTakeProfit
	pairErr      map[string]error
	cancelErr    error
	createErr    error
	cancelled    [][]string
	created      []createCall
	nextID       int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		prices:   make(map[string]decimal.Decimal),
		priceErr: make(map[string]error),
		pairs:    make(map[string]domain.StopTakeProfit),
		pairErr:  make(map[string]error),
	}
}

func (v *fakeVenue) open(symbol string, side domain.Side, entry, stop, tp string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions = append(v.positions, domain.VenuePosition{
		Symbol:     symbol,
		Side:       side,
		Contracts:  d("1"),
		EntryPrice: d(entry),
	})
	v.nextID++
	v.pairs[symbol] = domain.StopTakeProfit{
		StopOrderID:      fmt.Sprintf("sl-%d", v.nextID),
		StopTriggerPrice: d(stop),
		TPOrderID:        fmt.Sprintf("tp-%d", v.nextID),
		TPTriggerPrice:   d(tp),
	}
}

func (v *fakeVenue) setPrice(symbol, price string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = d(price)
}

func (v *fakeVenue) close(symbol string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	kept := v.positions[:0]
	for _, p := range v.positions {
		if p.Symbol != symbol {
			kept = append(kept, p)
		}
	}
	v.positions = kept
}

func (v *fakeVenue) pair(symbol string) (domain.StopTakeProfit, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pairs[symbol]
	return p, ok
}

func (v *fakeVenue) createCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.created)
}

func (v *fakeVenue) FetchPositions(_ context.Context) ([]domain.VenuePosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.positionsErr != nil {
		return nil, v.positionsErr
	}
	return append([]domain.VenuePosition(nil), v.positions...), nil
}

func (v *fakeVenue) FetchPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.priceErr[symbol]; err != nil {
		return decimal.Zero, err
	}
	p, ok := v.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s: %w", symbol, domain.ErrVenueUnavailable)
	}
	return p, nil
}

func (v *fakeVenue) FetchStopTakeProfit(_ context.Context, symbol string) (domain.StopTakeProfit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.pairErr[symbol]; err != nil {
		return domain.StopTakeProfit{}, err
	}
	p, ok := v.pairs[symbol]
	if !ok {
		return domain.StopTakeProfit{}, domain.ErrOrderNotFound
	}
	return p, nil
}

func (v *fakeVenue) CancelOrders(_ context.Context, ids []string, symbol string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancelErr != nil {
		return v.cancelErr
	}
	v.cancelled = append(v.cancelled, append([]string(nil), ids...))
	delete(v.pairs, symbol)
	return nil
}

func (v *fakeVenue) CreateStopTakeProfit(_ context.Context, symbol string, side domain.Side, stop, tp decimal.Decimal) (domain.OrderPair, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.createErr != nil {
		return domain.OrderPair{}, v.createErr
	}
	v.nextID++
	pair := domain.OrderPair{
		StopOrderID: fmt.Sprintf("sl-%d", v.nextID),
		TPOrderID:   fmt.Sprintf("tp-%d", v.nextID),
	}
	v.pairs[symbol] = domain.StopTakeProfit{
		StopOrderID:      pair.StopOrderID,
		StopTriggerPrice: stop,
		TPOrderID:        pair.TPOrderID,
		TPTriggerPrice:   tp,
	}
	v.created = append(v.created, createCall{symbol: symbol, side: side, stop: stop, tp: tp})
	return pair, nil
}

var _ domain.Venue = (*fakeVenue)(nil)

type recordedAlert struct {
	event, title, message string
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []recordedAlert
	err    error
}

func (n *fakeNotifier) Notify(_ context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, recordedAlert{event, title, message})
	return n.err
}

func (n *fakeNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.alerts))
	for _, a := range n.alerts {
		out = append(out, a.event)
	}
	return out
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

// eventNames decodes the events published so far, in order.
func (b *fakeBus) eventNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for _, payload := range b.published[domain.ChannelEvents] {
		var evt domain.StopEvent
		if json.Unmarshal(payload, &evt) == nil {
			names = append(names, evt.Event)
		}
	}
	return names
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{ID: int64(len(a.entries) + 1), Event: event, Detail: detail, CreatedAt: time.Now()})
	return nil
}

func (a *fakeAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

func (a *fakeAudit) ListBefore(_ context.Context, _ time.Time, _ int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *fakeAudit) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakePriceCache struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	at     map[string]time.Time
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{prices: map[string]decimal.Decimal{}, at: map[string]time.Time{}}
}

func (c *fakePriceCache) SetPrice(_ context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
	c.at[symbol] = ts
	return nil
}

func (c *fakePriceCache) GetPrice(_ context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[symbol]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return p, c.at[symbol], nil
}

func (c *fakePriceCache) GetPrices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if p, ok := c.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

type fakeLocks struct {
	mu       sync.Mutex
	held     bool
	acquired int
	released int
}

func (l *fakeLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.held = true
	l.acquired++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.released++
	}, nil
}

func (l *fakeLocks) Refresh(_ context.Context, _ string, _ time.Duration) error {
	return nil
}

func (v *fakeVenue) flip(symbol string, side domain.Side) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.positions {
		if v.positions[i].Symbol == symbol {
			v.positions[i].Side = side
		}
	}
}

func (v *fakeVenue) dropPair(symbol string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pairs, symbol)
}
