package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/crystalmix/exchange-core/internal/domain"
	"github.com/crystalmix/exchange-core/internal/ledger"
	"github.com/crystalmix/exchange-core/internal/order"
	"github.com/crystalmix/exchange-core/internal/rates"
	"github.com/crystalmix/exchange-core/pkg"
	middleware "github.com/crystalmix/exchange-core/pkg/middlewares"
)

func newTestRouter(t *testing.T) (*gin.Engine, *rates.Cache) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	cache := rates.NewCache(logger)
	store := ledger.NewMemory(
		domain.Currency{
			ID: "usdt-trc20", Symbol: "USDT", Kind: pkg.CurrencyKindCrypto, Network: "TRC20",
			MinAmount: decimal.NewFromInt(10), MaxAmount: decimal.NewFromInt(100000), Active: true,
		},
		domain.Currency{
			ID: "card-mdl", Symbol: "MDL", Kind: pkg.CurrencyKindFiat,
			MinAmount: decimal.NewFromInt(1), Active: true,
		},
	)
	svc := order.NewService(logger, order.Config{
		LockWindow:          time.Minute,
		DepositTolerancePct: decimal.RequireFromString("0.02"),
		PlatformFeePct:      decimal.RequireFromString("0.005"),
	}, store, cache, rates.NewLockManager(cache))
	t.Cleanup(svc.Close)

	// globalRate=0 disables limiting, so no Redis is needed here
	limiter := pkg.NewDistributedLimiter(nil, "test:create_rate", 0, 0, time.Minute, logger)

	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	NewOrderHandler(logger, svc, limiter).RegisterRoutes(api)
	NewRateHandler(logger, cache).RegisterRoutes(api)
	NewBaseHandler(logger).RegisterRoutes(r)
	return r, cache
}

func putTestRate(t *testing.T, cache *rates.Cache, value string) {
	t.Helper()
	require.NoError(t, cache.Put(domain.Rate{
		Pair:       domain.Pair{From: "usdt-trc20", To: "card-mdl"},
		Value:      decimal.RequireFromString(value),
		ObservedAt: time.Now(),
	}))
}

func postOrder(r *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func validOrderBody() map[string]any {
	return map[string]any{
		"fromCurrency": "usdt-trc20",
		"toCurrency":   "card-mdl",
		"fromAmount":   "100",
		"rateType":     "float",
		"cardDetails": map[string]any{
			"number":     "4111111111111111",
			"bankName":   "maib",
			"holderName": "ION POPESCU",
		},
	}
}

func TestCreateOrder_Created(t *testing.T) {
	r, cache := newTestRouter(t)
	putTestRate(t, cache, "19.50")

	w := postOrder(r, validOrderBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Order struct {
				ID             string `json:"id"`
				Status         string `json:"status"`
				ExchangeRate   string `json:"exchangeRate"`
				DepositAddress string `json:"depositAddress"`
			} `json:"order"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.Order.ID)
	assert.Equal(t, string(pkg.OrderStatusAwaitingDeposit), resp.Data.Order.Status)
	assert.Equal(t, "19.5", resp.Data.Order.ExchangeRate)
	assert.NotEmpty(t, resp.Data.Order.DepositAddress)
}

func TestCreateOrder_NoRateAvailable(t *testing.T) {
	r, _ := newTestRouter(t)

	w := postOrder(r, validOrderBody())
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	var resp pkg.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, pkg.ErrNoRateCode.Code, resp.Code)
}

func TestCreateOrder_RejectsBothPayoutVariants(t *testing.T) {
	r, cache := newTestRouter(t)
	putTestRate(t, cache, "19.50")

	body := validOrderBody()
	body["recipientAddress"] = "TXkzJd7Ah1vFZ8yN"
	w := postOrder(r, body)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestCreateOrder_RejectsUnknownCurrency(t *testing.T) {
	r, cache := newTestRouter(t)
	putTestRate(t, cache, "19.50")

	body := validOrderBody()
	body["fromCurrency"] = "doge"
	w := postOrder(r, body)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	var resp pkg.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, pkg.ErrUnknownCurrencyCode.Code, resp.Code)
}

func TestGetOrder_RoundTrip(t *testing.T) {
	r, cache := newTestRouter(t)
	putTestRate(t, cache, "19.50")

	w := postOrder(r, validOrderBody())
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Data struct {
			Order struct {
				ID string `json:"id"`
			} `json:"order"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+created.Data.Order.ID, nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code, w2.Body.String())
}

func TestGetOrder_NotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}

func TestGetRates_ReturnsSnapshot(t *testing.T) {
	r, cache := newTestRouter(t)
	putTestRate(t, cache, "19.50")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rates", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Rates []domain.Rate `json:"rates"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Rates, 1)
	assert.Equal(t, "usdt-trc20", resp.Data.Rates[0].From)
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
