package trust

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/meshtrust/trustd/internal/logging"
)

// CompositeFunc resolves a per-app composite score. Injected at wiring time
// so the core score endpoints can serve ?app_id= requests without this
// package depending on the registry.
type CompositeFunc func(ctx context.Context, wallet, appID string) (interface{}, error)

// Handler provides HTTP endpoints for core trust scores.
type Handler struct {
	svc       *Service
	composite CompositeFunc
}

// NewHandler creates a new trust handler.
func NewHandler(svc *Service, composite CompositeFunc) *Handler {
	return &Handler{svc: svc, composite: composite}
}

// RegisterRoutes sets up trust endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/trust/:address", h.GetScore)
	r.GET("/trust/:address/metrics", h.GetMetrics)
	r.PUT("/trust/:address/metrics", h.UpdateMetrics)
	r.PUT("/trust/:address/metrics/:name", h.RecordMetric)
	r.GET("/trust/:address/history", h.GetHistory)
	r.POST("/trust/batch", h.BatchScores)
}

// GetScore returns the core trust score for an address, or the per-app
// composite when app_id is given.
func (h *Handler) GetScore(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	if appID := c.Query("app_id"); appID != "" && h.composite != nil {
		result, err := h.composite(c.Request.Context(), address, appID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	m, err := h.svc.GetMetrics(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":        m.Address,
		"coreTrustScore": m.CoreTrustScore,
		"lastUpdated":    m.LastUpdated,
	})
}

// GetMetrics returns the full metrics record for an address.
func (h *Handler) GetMetrics(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	m, err := h.svc.GetMetrics(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// UpdateMetrics merges partial metric fields into an address's record.
func (h *Handler) UpdateMetrics(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a partial metrics object",
		})
		return
	}

	m, err := h.svc.UpdateMetrics(c.Request.Context(), address, req)
	if err != nil {
		respondError(c, err)
		return
	}

	logging.L(c.Request.Context()).Info("metrics updated",
		"address", address, "score", m.CoreTrustScore)
	c.JSON(http.StatusOK, m)
}

// RecordMetric updates a single named metric.
func (h *Handler) RecordMetric(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))
	name := c.Param("name")

	var req struct {
		Value float64 `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'value'",
		})
		return
	}

	m, err := h.svc.RecordMetric(c.Request.Context(), address, name, req.Value)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// GetHistory returns recent score samples, most recent first.
func (h *Handler) GetHistory(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be between 1 and 1000",
			})
			return
		}
		limit = n
	}

	samples, err := h.svc.History(c.Request.Context(), address, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "history": samples})
}

// BatchScores returns scores for multiple addresses, optionally composite
// per app_id.
func (h *Handler) BatchScores(c *gin.Context) {
	var req struct {
		Addresses []string `json:"addresses"`
		AppID     string   `json:"appId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'addresses' array",
		})
		return
	}
	if len(req.Addresses) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "At least one address is required",
		})
		return
	}
	if len(req.Addresses) > 100 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "too_many_addresses",
			"message": "Maximum 100 addresses per batch request",
		})
		return
	}

	ctx := c.Request.Context()
	results := make([]gin.H, 0, len(req.Addresses))
	for _, addr := range req.Addresses {
		addr = strings.ToLower(addr)

		if req.AppID != "" && h.composite != nil {
			score, err := h.composite(ctx, addr, req.AppID)
			if err != nil {
				results = append(results, gin.H{"address": addr, "error": err.Error()})
				continue
			}
			results = append(results, gin.H{"address": addr, "score": score})
			continue
		}

		m, err := h.svc.GetMetrics(ctx, addr)
		if err != nil {
			results = append(results, gin.H{"address": addr, "error": err.Error()})
			continue
		}
		results = append(results, gin.H{"address": addr, "coreTrustScore": m.CoreTrustScore})
	}

	c.JSON(http.StatusOK, gin.H{"scores": results})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
	case errors.Is(err, ErrMetricsNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("trust request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "An internal error occurred"})
	}
}
