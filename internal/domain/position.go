package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide accepts "long"/"buy" and "short"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return SideLong, nil
	case "short", "sell":
		return SideShort, nil
	default:
		return "", fmt.Errorf("domain: unknown side %q", s)
	}
}

// VenuePosition is an open position as reported by the venue.
type VenuePosition struct {
	Symbol     string
	Side       Side
	Contracts  decimal.Decimal
	EntryPrice decimal.Decimal
}

// IsOpen reports whether the venue still holds contracts for the position.
func (p VenuePosition) IsOpen() bool {
	return p.Contracts.IsPositive()
}

// PositionState is the trailing-stop record for one tracked symbol.
//
// Extremum holds the highest price seen for a long and the lowest price seen
// for a short. CurrentStop is meaningful only once TrailingActivated is set.
type PositionState struct {
	Symbol             string
	Side               Side
	EntryPrice         decimal.Decimal
	Extremum           decimal.Decimal
	AccelerationFactor decimal.Decimal
	CurrentStop        decimal.Decimal
	StopOrderID        string
	TrailingActivated  bool
}

// UnrealizedPnLPercent returns the favourable move from entry to price, in
// percent of the entry price. Leverage is not applied.
func UnrealizedPnLPercent(side Side, entry, price decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	diff := price.Sub(entry)
	if side == SideShort {
		diff = diff.Neg()
	}
	return diff.Div(entry).Mul(decimal.NewFromInt(100))
}
