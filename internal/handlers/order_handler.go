package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/internal/domain"
	"github.com/crystalmix/exchange-core/internal/order"
	"github.com/crystalmix/exchange-core/internal/views"
	"github.com/crystalmix/exchange-core/pkg"
	"github.com/crystalmix/exchange-core/pkg/utils"
)

type OrderHandler struct {
	logger  *zap.Logger
	service *order.Service
	limiter *pkg.DistributedLimiter
}

func NewOrderHandler(logger *zap.Logger, svc *order.Service, limiter *pkg.DistributedLimiter) *OrderHandler {
	return &OrderHandler{logger: logger, service: svc, limiter: limiter}
}

// RegisterRoutes registers order routes on the provided Gin group.
func (h *OrderHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.CreateOrder)
	r.GET("/orders/:id", h.GetOrder)
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkg.ErrorResponse{
			Code:    pkg.ErrServerCode.Code,
			Message: err.Error(),
		})
		return
	}

	if !h.limiter.Allow(c.Request.Context()) {
		c.JSON(http.StatusTooManyRequests, pkg.ErrorResponse{
			Code:    pkg.ErrRateLimitedCode.Code,
			Message: pkg.ErrRateLimitedCode.Message,
		})
		return
	}

	var req views.CreateOrderRequest
	if err = c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkg.ErrorResponse{
			Code:    pkg.ErrInvalidInputCode.Code,
			Message: "invalid request body",
			Details: err.Error(),
		})
		return
	}

	createReq, err := toCreateRequest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, pkg.ErrorResponse{
			Code:    pkg.ErrInvalidInputCode.Code,
			Message: err.Error(),
		})
		return
	}

	ord, err := h.service.Create(c.Request.Context(), createReq)
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, mapOrderError(err))
		c.JSON(resp.Status, resp)
		return
	}

	c.JSON(http.StatusCreated, views.APIResponse{
		Data: map[string]interface{}{
			"order": views.ToOrderResponse(ord),
		},
	})
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkg.ErrorResponse{
			Code:    pkg.ErrServerCode.Code,
			Message: err.Error(),
		})
		return
	}

	ord, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, mapOrderError(err))
		c.JSON(resp.Status, resp)
		return
	}

	c.JSON(http.StatusOK, views.APIResponse{
		Data: map[string]interface{}{
			"order": views.ToOrderResponse(ord),
		},
	})
}

// toCreateRequest validates the exactly-one-of payout shape and converts the
// wire payload into a service request.
func toCreateRequest(req views.CreateOrderRequest) (order.CreateRequest, error) {
	hasWallet := !utils.IsEmpty(req.RecipientAddress)
	hasCard := req.CardDetails != nil
	if hasWallet == hasCard {
		return order.CreateRequest{}, errors.New("exactly one of recipientAddress or cardDetails is required")
	}

	amount, err := decimal.NewFromString(req.FromAmount)
	if err != nil {
		return order.CreateRequest{}, errors.New("fromAmount must be a decimal number")
	}
	if !amount.IsPositive() {
		return order.CreateRequest{}, errors.New("fromAmount must be positive")
	}

	var payout domain.PayoutDestination
	if hasWallet {
		payout = domain.WalletPayout{Address: req.RecipientAddress}
	} else {
		payout = domain.CardPayout{
			Number:   req.CardDetails.Number,
			BankName: req.CardDetails.BankName,
			Holder:   req.CardDetails.HolderName,
		}
	}

	return order.CreateRequest{
		OrderID:      req.OrderID,
		FromCurrency: req.FromCurrency,
		ToCurrency:   req.ToCurrency,
		FromAmount:   amount,
		RateType:     pkg.RateType(req.RateType),
		Payout:       payout,
		ContactEmail: req.ContactEmail,
	}, nil
}

// mapOrderError translates domain sentinels into API error codes. Unknown
// errors fall through unchanged and surface as 500s.
func mapOrderError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNoRateAvailable):
		return pkg.NewAppError(pkg.ErrNoRateCode, pkg.ErrNoRateCode.Message, err)
	case errors.Is(err, domain.ErrRateExpired):
		return pkg.NewAppError(pkg.ErrRateExpiredCode, pkg.ErrRateExpiredCode.Message, err)
	case errors.Is(err, domain.ErrOrderExists):
		return pkg.NewAppError(pkg.ErrOrderExistsCode, pkg.ErrOrderExistsCode.Message, err)
	case errors.Is(err, domain.ErrOrderNotFound):
		return pkg.NewAppError(pkg.ErrRecordNotFoundCode, "order not found", err)
	case errors.Is(err, domain.ErrUnknownCurrency):
		return pkg.NewAppError(pkg.ErrUnknownCurrencyCode, pkg.ErrUnknownCurrencyCode.Message, err)
	case errors.Is(err, domain.ErrAmountOutOfRange):
		return pkg.NewAppError(pkg.ErrAmountOutOfRangeCode, pkg.ErrAmountOutOfRangeCode.Message, err)
	case errors.Is(err, domain.ErrInvalidPayout):
		return pkg.NewAppError(pkg.ErrInvalidInputCode, "payout destination does not match payout currency", err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return pkg.NewAppError(pkg.ErrInvalidTransitionCode, pkg.ErrInvalidTransitionCode.Message, err)
	default:
		return err
	}
}
