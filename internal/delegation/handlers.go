package delegation

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meshtrust/trustd/internal/logging"
)

// Handler provides HTTP endpoints for delegation management.
type Handler struct {
	svc *Service
}

// NewHandler creates a new delegation handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up delegation endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/delegations", h.CreateDelegation)
	r.DELETE("/delegations/:id", h.RevokeDelegation)
	r.GET("/trust/:address/delegations", h.GetChain)
}

// CreateDelegation creates a new active delegation edge.
func (h *Handler) CreateDelegation(c *gin.Context) {
	var req struct {
		Delegator string     `json:"delegator"`
		Delegate  string     `json:"delegate"`
		Amount    string     `json:"amount"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'delegator', 'delegate', and 'amount'",
		})
		return
	}

	d, err := h.svc.DelegateUntil(c.Request.Context(), req.Delegator, req.Delegate, req.Amount, req.ExpiresAt)
	if err != nil {
		respondError(c, err)
		return
	}

	logging.L(c.Request.Context()).Info("delegation created",
		"id", d.ID, "delegator", d.Delegator, "delegate", d.Delegate, "depth", d.Depth)
	c.JSON(http.StatusCreated, d)
}

// RevokeDelegation marks a delegation inactive. Always succeeds for
// well-formed ids.
func (h *Handler) RevokeDelegation(c *gin.Context) {
	id := c.Param("id")

	if err := h.svc.Revoke(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetChain returns all delegations involving an address, newest first.
func (h *Handler) GetChain(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	chain, err := h.svc.Chain(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}
	if chain == nil {
		chain = []*Delegation{}
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "delegations": chain})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrCircularDelegation):
		c.JSON(http.StatusConflict, gin.H{"error": "circular_delegation", "message": err.Error()})
	case errors.Is(err, ErrDepthExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": "depth_exceeded", "message": err.Error()})
	case errors.Is(err, ErrSelfDelegation), errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("delegation request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "An internal error occurred"})
	}
}
