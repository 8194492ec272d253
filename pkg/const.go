package pkg

const (
	HeaderTraceId   string = "X-Trace-Id"
	HeaderRequestId string = "X-Request-Id"
)

const (
	TraceId   string = "trace_id"
	RequestId string = "request_id"
	OrderId   string = "order_id"
)

// OrderStatus is the lifecycle state of an exchange order.
type OrderStatus string

const (
	OrderStatusAwaitingDeposit OrderStatus = "awaiting_deposit"
	OrderStatusConfirmed       OrderStatus = "confirmed"
	OrderStatusProcessing      OrderStatus = "processing"
	OrderStatusCompleted       OrderStatus = "completed"
	OrderStatusFailed          OrderStatus = "failed"
	OrderStatusRefunded        OrderStatus = "refunded"
)

// Terminal reports whether s is a final state. Terminal orders accept no
// further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusRefunded:
		return true
	}
	return false
}

// RateType selects how an order's exchange rate is frozen at creation.
type RateType string

const (
	RateTypeFixed RateType = "fixed"
	RateTypeFloat RateType = "float"
)

// CurrencyKind classifies reference currencies.
type CurrencyKind string

const (
	CurrencyKindCrypto CurrencyKind = "crypto"
	CurrencyKindFiat   CurrencyKind = "fiat"
)

// Websocket envelope message types.
const (
	MsgTypeRatesUpdate = "rates_update"
)

// DepositStatusSuccess is the only notification status the reconciler acts on.
const DepositStatusSuccess = "success"
