package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailstop/internal/costbasis"
	"github.com/alanyoungcy/trailstop/internal/domain"
)

// TradeService records spot trades and reports holdings from them.
type TradeService struct {
	trades domain.TradeStore
	engine *costbasis.Engine
	prices domain.PriceCache
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewTradeService creates a TradeService. prices, bus and audit may be nil.
func NewTradeService(
	trades domain.TradeStore,
	engine *costbasis.Engine,
	prices domain.PriceCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		trades: trades,
		engine: engine,
		prices: prices,
		bus:    bus,
		audit:  audit,
		logger: logger.With(slog.String("component", "trade_service")),
	}
}

type tradeEvent struct {
	Event     string           `json:"event"`
	ID        int64            `json:"trade_id"`
	Symbol    string           `json:"symbol"`
	Type      domain.TradeType `json:"type"`
	Price     string           `json:"price"`
	Quantity  string           `json:"quantity"`
	Fee       string           `json:"fee"`
	Timestamp time.Time        `json:"timestamp"`
}

// RecordTrade validates and appends a trade to the ledger, then publishes it
// on domain.ChannelTrades. The stored record, with its id, is returned.
func (s *TradeService) RecordTrade(ctx context.Context, trade domain.TradeRecord) (domain.TradeRecord, error) {
	if err := trade.Validate(); err != nil {
		return domain.TradeRecord{}, err
	}
	trade.Timestamp = trade.Timestamp.UTC()

	id, err := s.trades.Insert(ctx, trade)
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("trade_service: insert %s: %w", trade.Symbol, err)
	}
	trade.ID = id

	if s.bus != nil {
		payload, _ := json.Marshal(tradeEvent{
			Event:     domain.EventTradeRecorded,
			ID:        trade.ID,
			Symbol:    trade.Symbol,
			Type:      trade.Type,
			Price:     trade.Price.String(),
			Quantity:  trade.Quantity.String(),
			Fee:       trade.Fee.String(),
			Timestamp: trade.Timestamp,
		})
		if pubErr := s.bus.Publish(ctx, domain.ChannelTrades, payload); pubErr != nil {
			s.logger.WarnContext(ctx, "trade_service: publish event failed",
				slog.Int64("trade_id", trade.ID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	if s.audit != nil {
		if auditErr := s.audit.Log(ctx, domain.EventTradeRecorded, map[string]any{
			"trade_id": trade.ID,
			"symbol":   trade.Symbol,
			"type":     string(trade.Type),
			"price":    trade.Price.String(),
			"quantity": trade.Quantity.String(),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "trade_service: audit log failed",
				slog.String("error", auditErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "trade_service: recorded trade",
		slog.Int64("trade_id", trade.ID),
		slog.String("symbol", trade.Symbol),
		slog.String("type", string(trade.Type)),
	)
	return trade, nil
}

// ImportTrades validates every trade and appends them in one batch. Nothing
// is stored when any trade is invalid. Imports are audited but not published.
func (s *TradeService) ImportTrades(ctx context.Context, trades []domain.TradeRecord) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	for i := range trades {
		if err := trades[i].Validate(); err != nil {
			return 0, fmt.Errorf("trade %d: %w", i, err)
		}
		trades[i].Timestamp = trades[i].Timestamp.UTC()
	}

	if err := s.trades.InsertBatch(ctx, trades); err != nil {
		return 0, fmt.Errorf("trade_service: insert batch: %w", err)
	}

	symbols := make(map[string]int)
	for _, t := range trades {
		symbols[t.Symbol]++
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, domain.EventTradesImported, map[string]any{
			"count":   len(trades),
			"symbols": symbols,
		}); err != nil {
			s.logger.WarnContext(ctx, "trade_service: audit log failed",
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "trade_service: imported trades",
		slog.Int("count", len(trades)),
		slog.Int("symbols", len(symbols)),
	)
	return len(trades), nil
}

// ListTrades returns trades for a symbol in timestamp order.
func (s *TradeService) ListTrades(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	trades, err := s.trades.ListBySymbol(ctx, symbol, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list %q: %w", symbol, err)
	}
	return trades, nil
}

// Holdings replays the full ledger of symbol and values the result at the
// last cached price, when there is one. It returns domain.ErrNotFound for a
// symbol with no trades.
func (s *TradeService) Holdings(ctx context.Context, symbol string) (domain.Holding, error) {
	trades, err := s.trades.ListBySymbol(ctx, symbol, domain.ListOpts{})
	if err != nil {
		return domain.Holding{}, fmt.Errorf("trade_service: list %q: %w", symbol, err)
	}
	if len(trades) == 0 {
		return domain.Holding{}, fmt.Errorf("trade_service: holdings %q: %w", symbol, domain.ErrNotFound)
	}

	res := s.engine.Replay(trades)
	h := domain.Holding{
		Symbol:       symbol,
		Quantity:     res.Quantity,
		AveragePrice: res.AveragePrice,
		CostBasis:    res.TotalCost,
	}
	if s.prices == nil {
		return h, nil
	}

	price, at, err := s.prices.GetPrice(ctx, symbol)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		s.logger.WarnContext(ctx, "trade_service: price lookup failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	default:
		valueAt(&h, price, at)
	}
	return h, nil
}

// AllHoldings reports every symbol with at least one trade, including those
// fully disposed of.
func (s *TradeService) AllHoldings(ctx context.Context) ([]domain.Holding, error) {
	symbols, err := s.trades.ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list symbols: %w", err)
	}

	var prices map[string]decimal.Decimal
	if s.prices != nil && len(symbols) > 0 {
		prices, err = s.prices.GetPrices(ctx, symbols)
		if err != nil {
			s.logger.WarnContext(ctx, "trade_service: price lookup failed",
				slog.String("error", err.Error()),
			)
		}
	}

	out := make([]domain.Holding, 0, len(symbols))
	for _, sym := range symbols {
		trades, err := s.trades.ListBySymbol(ctx, sym, domain.ListOpts{})
		if err != nil {
			return nil, fmt.Errorf("trade_service: list %q: %w", sym, err)
		}
		res := s.engine.Replay(trades)
		h := domain.Holding{
			Symbol:       sym,
			Quantity:     res.Quantity,
			AveragePrice: res.AveragePrice,
			CostBasis:    res.TotalCost,
		}
		if p, ok := prices[sym]; ok {
			valueAt(&h, p, time.Time{})
		}
		out = append(out, h)
	}
	return out, nil
}

func valueAt(h *domain.Holding, price decimal.Decimal, at time.Time) {
	h.MarketPrice = price
	h.MarketValue = h.Quantity.Mul(price)
	h.UnrealizedPnL = h.MarketValue.Sub(h.CostBasis)
	h.PricedAt = at
}
