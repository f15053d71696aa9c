package analytics

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meshtrust/trustd/internal/logging"
)

// Handler provides the analytics HTTP endpoint.
type Handler struct {
	agg *Aggregator
}

// NewHandler creates a new analytics handler.
func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

// RegisterRoutes sets up the analytics endpoint
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/analytics", h.GetAnalytics)
}

// GetAnalytics returns the network-wide trust summary.
func (h *Handler) GetAnalytics(c *gin.Context) {
	summary, err := h.agg.Summarize(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("analytics failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "An internal error occurred"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
