package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Pair is an ordered currency pair. Direction matters: usdt-trc20 -> card-mdl
// and card-mdl -> usdt-trc20 are distinct pairs with distinct rates.
type Pair struct {
	From string `json:"fromCurrency"`
	To   string `json:"toCurrency"`
}

func (p Pair) String() string {
	return fmt.Sprintf("%s->%s", p.From, p.To)
}

// Rate is the latest observed exchange rate for a pair.
type Rate struct {
	Pair
	Value      decimal.Decimal `json:"rate"`
	ObservedAt time.Time       `json:"timestamp"`
}

// Validate rejects rates that could never be applied to an order.
func (r Rate) Validate() error {
	if r.From == "" || r.To == "" {
		return errors.New("rate pair currencies must be set")
	}
	if !r.Value.IsPositive() {
		return fmt.Errorf("rate for %s must be positive, got %s", r.Pair, r.Value)
	}
	return nil
}

// RateLock is an ephemeral snapshot of a rate, valid until ExpiresAt. It is
// owned by the creation request that acquired it and is consumed into the
// order's frozen exchange rate; it is never persisted on its own.
type RateLock struct {
	Pair       Pair
	Rate       decimal.Decimal
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lock window has passed at the given instant.
// The boundary now == ExpiresAt counts as expired.
func (l RateLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
