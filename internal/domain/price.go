package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidatePrice rejects zero and negative prices.
func ValidatePrice(p decimal.Decimal) error {
	if !p.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, p.String())
	}
	return nil
}

// PriceFromFloat converts a venue-reported float into a decimal price,
// rejecting NaN, infinities and non-positive values.
func PriceFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidPrice, f)
	}
	return decimal.NewFromFloat(f), nil
}

// ParsePrice parses a decimal string price such as "61250.5".
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "nan") || strings.Contains(strings.ToLower(s), "inf") {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	if err := ValidatePrice(p); err != nil {
		return decimal.Zero, err
	}
	return p, nil
}
