// Package trade defines the immutable value that flows from the upstream
// exchange client through the queue to the store writer.
package trade

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one executed market transaction at a specific price, quantity,
// and instant. Values are constructed once by the parser and never mutated
// afterwards.
type Trade struct {
	Symbol    string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	TradeID   int64
	TradeTime time.Time
}

// New constructs a Trade, uppercasing the symbol so callers never need to
// remember to do it themselves.
func New(symbol string, price, quantity decimal.Decimal, tradeID int64, tradeTime time.Time) Trade {
	return Trade{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Price:     price,
		Quantity:  quantity,
		TradeID:   tradeID,
		TradeTime: tradeTime,
	}
}

// Equal reports whether two trades describe the same logical event. Decimal
// comparison is by value, not by internal representation.
func (t Trade) Equal(o Trade) bool {
	return t.Symbol == o.Symbol &&
		t.Price.Equal(o.Price) &&
		t.Quantity.Equal(o.Quantity) &&
		t.TradeID == o.TradeID &&
		t.TradeTime.Equal(o.TradeTime)
}

// ValidSymbol reports whether s is ASCII-alphanumeric (letters of either
// case are accepted) and within
// [minLen, maxLen] characters (inclusive). Callers pass the length bounds
// appropriate to their context: 4-20 at upstream ingress, 4-12 at the
// config-resolver boundary.
func ValidSymbol(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
