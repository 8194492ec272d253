package domain

import (
	"github.com/shopspring/decimal"

	"github.com/crystalmix/exchange-core/pkg"
)

// Currency is immutable reference data. The core only reads it.
type Currency struct {
	ID        string           `json:"id"`
	Symbol    string           `json:"symbol"`
	Kind      pkg.CurrencyKind `json:"kind"`
	Network   string           `json:"network,omitempty"`
	MinAmount decimal.Decimal  `json:"minAmount"`
	MaxAmount decimal.Decimal  `json:"maxAmount"`
	Active    bool             `json:"active"`
}

// CardPayout reports whether orders paying out in this currency settle to a
// bank card rather than a wallet address.
func (c Currency) CardPayout() bool {
	return c.Kind == pkg.CurrencyKindFiat
}

// AmountInRange checks amount against the currency's transactable limits.
// A zero MaxAmount means no upper bound.
func (c Currency) AmountInRange(amount decimal.Decimal) bool {
	if amount.LessThan(c.MinAmount) {
		return false
	}
	if c.MaxAmount.IsPositive() && amount.GreaterThan(c.MaxAmount) {
		return false
	}
	return true
}
