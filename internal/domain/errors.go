package domain

import (
	"errors"
	"fmt"

	"github.com/crystalmix/exchange-core/pkg"
)

// Sentinel errors of the exchange core. Handlers map these onto
// pkg.AppError codes at the API boundary.
var (
	// ErrNoRateAvailable is returned when a quote or lock is requested for a
	// pair the rate cache has never seen.
	ErrNoRateAvailable = errors.New("no rate available for pair")

	// ErrRateExpired is returned when a fixed-rate lock's window has passed
	// by the time the order is confirmed.
	ErrRateExpired = errors.New("rate lock expired")

	// ErrInvalidTransition is returned when an order state change does not
	// match the transition table. It indicates an integration bug, never a
	// condition to silently ignore.
	ErrInvalidTransition = errors.New("invalid order state transition")

	// ErrOrderExists is returned when creating an order with an id that is
	// already taken.
	ErrOrderExists = errors.New("order id already exists")

	// ErrOrderNotFound is returned by ledger lookups for unknown ids.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNoMatch is returned when a deposit notification matches no awaiting
	// order. Expected and common; logged, never alerted on by itself.
	ErrNoMatch = errors.New("no matching order for deposit")

	// ErrAmbiguousMatch is returned when a deposit notification matches more
	// than one awaiting order. Operational error for operator attention.
	ErrAmbiguousMatch = errors.New("deposit matches multiple orders")

	// ErrUnknownCurrency is returned for inactive or unknown currency ids.
	ErrUnknownCurrency = errors.New("unknown or inactive currency")

	// ErrAmountOutOfRange is returned when fromAmount falls outside the
	// currency's transactable limits.
	ErrAmountOutOfRange = errors.New("amount outside currency limits")

	// ErrInvalidPayout is returned when the payout destination is missing,
	// incomplete, or of the wrong kind for the payout currency.
	ErrInvalidPayout = errors.New("invalid payout destination")
)

// TransitionError wraps ErrInvalidTransition with the attempted edge.
type TransitionError struct {
	OrderID string
	From    pkg.OrderStatus
	To      pkg.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: transition %s -> %s not allowed", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
