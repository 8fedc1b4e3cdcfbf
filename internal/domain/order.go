package domain

import "github.com/shopspring/decimal"

// StopTakeProfit is the paired protective orders the venue holds for a
// position.
type StopTakeProfit struct {
	StopOrderID      string
	StopTriggerPrice decimal.Decimal
	TPOrderID        string
	TPTriggerPrice   decimal.Decimal
}

// OrderIDs returns the non-empty order ids of the pair.
func (o StopTakeProfit) OrderIDs() []string {
	ids := make([]string, 0, 2)
	if o.StopOrderID != "" {
		ids = append(ids, o.StopOrderID)
	}
	if o.TPOrderID != "" {
		ids = append(ids, o.TPOrderID)
	}
	return ids
}

// OrderPair holds the ids returned when a stop/take-profit pair is created.
type OrderPair struct {
	StopOrderID string
	TPOrderID   string
}
