package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/internal/rates"
	"github.com/crystalmix/exchange-core/internal/views"
)

type RateHandler struct {
	logger *zap.Logger
	cache  *rates.Cache
}

func NewRateHandler(logger *zap.Logger, cache *rates.Cache) *RateHandler {
	return &RateHandler{logger: logger, cache: cache}
}

// RegisterRoutes registers rate routes on the provided Gin group.
func (h *RateHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/rates", h.GetRates)
}

// GetRates returns the current rate snapshot. Clients that want pushed
// updates use the websocket endpoint instead.
func (h *RateHandler) GetRates(c *gin.Context) {
	c.JSON(http.StatusOK, views.APIResponse{
		Data: map[string]interface{}{
			"rates": h.cache.Snapshot(),
		},
	})
}
