package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/crystalmix/exchange-core/pkg"
)

// Order is the central entity of the exchange core. It is created once,
// mutated only by the state machine and the reconciler, and never deleted:
// terminal statuses are final markers.
type Order struct {
	ID           string          `json:"id"`
	FromCurrency string          `json:"fromCurrency"`
	ToCurrency   string          `json:"toCurrency"`
	FromAmount   decimal.Decimal `json:"fromAmount"`
	// ToAmount is derived once at creation and never silently recomputed.
	ToAmount     decimal.Decimal `json:"toAmount"`
	ExchangeRate decimal.Decimal `json:"exchangeRate"`
	RateType     pkg.RateType    `json:"rateType"`
	Status       pkg.OrderStatus `json:"status"`

	DepositAddress string            `json:"depositAddress"`
	Payout         PayoutDestination `json:"payout"`
	ContactEmail   string            `json:"contactEmail,omitempty"`

	PlatformFee decimal.Decimal `json:"platformFee"`
	NetworkFee  decimal.Decimal `json:"networkFee"`

	// RateLockExpiry is meaningful only while the order is pre-settlement
	// and RateType is fixed.
	RateLockExpiry *time.Time `json:"rateLockExpiry,omitempty"`

	TxHash       string `json:"txHash,omitempty"`
	PayoutTxHash string `json:"payoutTxHash,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DepositNotification is an ephemeral record delivered by the external
// deposit monitor. It is consumed once: matched to an order or discarded.
type DepositNotification struct {
	Coin      string          `json:"coin"`
	Amount    decimal.Decimal `json:"amount"`
	TxID      string          `json:"txId"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Network   string          `json:"network,omitempty"`
	Address   string          `json:"address,omitempty"`
	Memo      string          `json:"memo,omitempty"`
}

// transitions is the full table of allowed state-machine edges. Creation
// (no state -> awaiting_deposit) is handled by the order service, not here.
var transitions = map[pkg.OrderStatus][]pkg.OrderStatus{
	pkg.OrderStatusAwaitingDeposit: {pkg.OrderStatusConfirmed, pkg.OrderStatusFailed, pkg.OrderStatusRefunded},
	pkg.OrderStatusConfirmed:       {pkg.OrderStatusProcessing, pkg.OrderStatusFailed, pkg.OrderStatusRefunded},
	pkg.OrderStatusProcessing:      {pkg.OrderStatusCompleted, pkg.OrderStatusFailed, pkg.OrderStatusRefunded},
}

// CanTransition reports whether the edge from -> to exists in the table.
func CanTransition(from, to pkg.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the order to the target status, refreshing UpdatedAt.
// Attempts from a terminal state, or along an edge not present in the
// table, fail with ErrInvalidTransition wrapped in a TransitionError so
// callers can detect double-processing bugs instead of silently no-opping.
func (o *Order) Transition(to pkg.OrderStatus, now time.Time) error {
	if o.Status.Terminal() || !CanTransition(o.Status, to) {
		return &TransitionError{OrderID: o.ID, From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}
