package antigaming

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/meshtrust/trustd/internal/logging"
)

// Handler provides HTTP endpoints for gaming assessments.
type Handler struct {
	detector *Detector
}

// NewHandler creates a new anti-gaming handler.
func NewHandler(detector *Detector) *Handler {
	return &Handler{detector: detector}
}

// RegisterRoutes sets up assessment endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/trust/:address/assessment", h.GetAssessment)
}

// GetAssessment evaluates (or returns the cached) gaming assessment for
// an address.
func (h *Handler) GetAssessment(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	a, err := h.detector.Assess(c.Request.Context(), address)
	if err != nil {
		logging.L(c.Request.Context()).Error("assessment failed", "address", address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "An internal error occurred"})
		return
	}
	c.JSON(http.StatusOK, a)
}
