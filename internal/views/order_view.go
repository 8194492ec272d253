package views

import (
	"time"

	"github.com/crystalmix/exchange-core/internal/domain"
)

// CardDetails is the card payout variant of the creation request.
type CardDetails struct {
	Number     string `json:"number" binding:"required"`
	BankName   string `json:"bankName"`
	HolderName string `json:"holderName" binding:"required"`
}

// CreateOrderRequest is the external order creation payload. Exactly one of
// RecipientAddress/CardDetails must be present, selected by whether the
// payout currency settles to a card.
type CreateOrderRequest struct {
	OrderID          string       `json:"orderId"`
	FromCurrency     string       `json:"fromCurrency" binding:"required"`
	ToCurrency       string       `json:"toCurrency" binding:"required"`
	FromAmount       string       `json:"fromAmount" binding:"required"`
	RateType         string       `json:"rateType" binding:"required,oneof=fixed float"`
	RecipientAddress string       `json:"recipientAddress,omitempty"`
	CardDetails      *CardDetails `json:"cardDetails,omitempty"`
	ContactEmail     string       `json:"contactEmail,omitempty" binding:"omitempty,email"`
}

// OrderResponse is the external projection of an order. Card numbers are
// masked; the full payout destination never leaves the service.
type OrderResponse struct {
	ID             string     `json:"id"`
	FromCurrency   string     `json:"fromCurrency"`
	ToCurrency     string     `json:"toCurrency"`
	FromAmount     string     `json:"fromAmount"`
	ToAmount       string     `json:"toAmount"`
	ExchangeRate   string     `json:"exchangeRate"`
	RateType       string     `json:"rateType"`
	Status         string     `json:"status"`
	DepositAddress string     `json:"depositAddress"`
	PayoutKind     string     `json:"payoutKind"`
	PlatformFee    string     `json:"platformFee"`
	NetworkFee     string     `json:"networkFee"`
	RateLockExpiry *time.Time `json:"rateLockExpiry,omitempty"`
	TxHash         string     `json:"txHash,omitempty"`
	PayoutTxHash   string     `json:"payoutTxHash,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func ToOrderResponse(o domain.Order) OrderResponse {
	kind := ""
	if o.Payout != nil {
		kind = string(o.Payout.Kind())
	}
	return OrderResponse{
		ID:             o.ID,
		FromCurrency:   o.FromCurrency,
		ToCurrency:     o.ToCurrency,
		FromAmount:     o.FromAmount.String(),
		ToAmount:       o.ToAmount.String(),
		ExchangeRate:   o.ExchangeRate.String(),
		RateType:       string(o.RateType),
		Status:         string(o.Status),
		DepositAddress: o.DepositAddress,
		PayoutKind:     kind,
		PlatformFee:    o.PlatformFee.String(),
		NetworkFee:     o.NetworkFee.String(),
		RateLockExpiry: o.RateLockExpiry,
		TxHash:         o.TxHash,
		PayoutTxHash:   o.PayoutTxHash,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

// APIResponse represents the structure of a standard API response.
type APIResponse struct {
	Data map[string]interface{} `json:"data"`
}
