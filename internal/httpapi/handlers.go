package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
	"github.com/Rajchodisetti/marketfeed/internal/observ"
)

type batchRequest struct {
	Symbols []string `json:"symbols" binding:"required,min=1"`
}

// GetMarket returns one record; it never fails for a valid symbol
func (h *Handler) GetMarket(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	if !adapters.ValidSymbol(symbol) {
		abortError(c, http.StatusBadRequest, "invalid symbol")
		return
	}
	c.JSON(http.StatusOK, h.service.GetMarketData(c.Request.Context(), symbol))
}

// GetBatch serves GET /v1/market?symbols=AAPL,bitcoin
func (h *Handler) GetBatch(c *gin.Context) {
	raw := c.Query("symbols")
	if raw == "" {
		abortError(c, http.StatusBadRequest, "symbols is required")
		return
	}
	h.batch(c, strings.Split(raw, ","))
}

func (h *Handler) PostBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}
	h.batch(c, req.Symbols)
}

func (h *Handler) batch(c *gin.Context, raw []string) {
	symbols := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !adapters.ValidSymbol(s) {
			abortError(c, http.StatusBadRequest, "invalid symbol "+strconv.Quote(s))
			return
		}
		symbols = append(symbols, s)
	}
	if len(symbols) == 0 {
		abortError(c, http.StatusBadRequest, "symbols is required")
		return
	}
	if len(symbols) > MaxBatchSymbols {
		abortError(c, http.StatusBadRequest, "too many symbols, max "+strconv.Itoa(MaxBatchSymbols))
		return
	}

	records := h.service.GetBatchMarketData(c.Request.Context(), symbols)
	c.JSON(http.StatusOK, gin.H{"count": len(records), "data": records})
}

func (h *Handler) GetFundamentals(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	if !adapters.ValidSymbol(symbol) {
		abortError(c, http.StatusBadRequest, "invalid symbol")
		return
	}
	c.JSON(http.StatusOK, h.service.GetFundamentals(c.Request.Context(), symbol))
}

func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetServiceStats(c.Request.Context()))
}

// CheckProviders calls every provider once; it may take several seconds
func (h *Handler) CheckProviders(c *gin.Context) {
	results := h.service.TestProviders(c.Request.Context())
	available := 0
	for _, r := range results {
		if r.Available {
			available++
		}
	}
	c.JSON(http.StatusOK, gin.H{"available": available, "total": len(results), "results": results})
}

func (h *Handler) ResetRateLimit(c *gin.Context) {
	h.service.ResetRateLimit()
	observ.Log("rate_limit_reset_requested", map[string]any{"request_id": c.GetString("request_id")})
	c.JSON(http.StatusOK, gin.H{"rateLimitActive": false})
}

// ActivateRateLimit trips the service breaker; ms defaults to the configured cooldown
func (h *Handler) ActivateRateLimit(c *gin.Context) {
	var d time.Duration
	if raw := c.Query("ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			abortError(c, http.StatusBadRequest, "ms must be a positive integer")
			return
		}
		d = time.Duration(ms) * time.Millisecond
	}
	until := h.service.ActivateRateLimit(d)
	c.JSON(http.StatusOK, gin.H{"rateLimitActive": true, "until": until})
}

func (h *Handler) ClearCache(c *gin.Context) {
	if err := h.service.ClearAllCache(c.Request.Context()); err != nil {
		observ.Log("cache_clear_error", map[string]any{"error": err.Error()})
		abortError(c, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	c.Status(http.StatusNoContent)
}
