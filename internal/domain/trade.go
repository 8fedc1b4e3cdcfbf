package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeType is the direction of a spot trade.
type TradeType string

const (
	TradeAcquire TradeType = "acquire"
	TradeDispose TradeType = "dispose"
)

// ParseTradeType accepts "acquire"/"buy" and "dispose"/"sell".
func ParseTradeType(s string) (TradeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "acquire", "buy":
		return TradeAcquire, nil
	case "dispose", "sell":
		return TradeDispose, nil
	default:
		return "", fmt.Errorf("%w: unknown trade type %q", ErrInvalidTrade, s)
	}
}

// TradeRecord is one immutable entry of the spot trade ledger. Fee is in
// quote currency.
type TradeRecord struct {
	ID        int64
	Symbol    string
	Type      TradeType
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
}

// Validate checks the fields a ledger entry must carry.
func (t TradeRecord) Validate() error {
	switch {
	case strings.TrimSpace(t.Symbol) == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidTrade)
	case t.Type != TradeAcquire && t.Type != TradeDispose:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTrade, t.Type)
	case !t.Price.IsPositive():
		return fmt.Errorf("%w: price must be > 0", ErrInvalidTrade)
	case !t.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be > 0", ErrInvalidTrade)
	case t.Fee.IsNegative():
		return fmt.Errorf("%w: fee must be >= 0", ErrInvalidTrade)
	case t.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidTrade)
	}
	return nil
}

// Holding is the cost-basis summary for one symbol.
type Holding struct {
	Symbol        string
	Quantity      decimal.Decimal
	AveragePrice  decimal.Decimal
	CostBasis     decimal.Decimal
	MarketPrice   decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	PricedAt      time.Time
}
