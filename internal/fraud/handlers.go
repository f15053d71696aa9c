package fraud

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/meshtrust/trustd/internal/logging"
)

// Handler provides HTTP endpoints for fraud scores.
type Handler struct {
	scorer *Scorer
}

// NewHandler creates a new fraud handler.
func NewHandler(scorer *Scorer) *Handler {
	return &Handler{scorer: scorer}
}

// RegisterRoutes sets up fraud endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/trust/:address/fraud", h.GetFraudScore)
}

// GetFraudScore computes (or returns the cached) fraud score for an address.
func (h *Handler) GetFraudScore(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	score, err := h.scorer.Compute(c.Request.Context(), address)
	if err != nil {
		logging.L(c.Request.Context()).Error("fraud score failed", "address", address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "An internal error occurred"})
		return
	}
	c.JSON(http.StatusOK, score)
}
