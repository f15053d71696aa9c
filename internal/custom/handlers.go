package custom

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/meshtrust/trustd/internal/logging"
	"github.com/meshtrust/trustd/internal/validation"
)

// Handler provides HTTP endpoints for the custom metrics registry and
// composite scores.
type Handler struct {
	svc *Service
}

// NewHandler creates a new custom metrics handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up registry and composite endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/apps/:appId/schema", h.RegisterSchema)
	r.PUT("/apps/:appId/fields/:address", h.SetField)
	r.GET("/apps/:appId/score/:address", h.GetCompositeScore)
	r.POST("/apps/:appId/verify/:address", h.Verify)
}

// RegisterSchema upserts an application's custom metrics schema.
func (h *Handler) RegisterSchema(c *gin.Context) {
	appID := c.Param("appId")

	var req struct {
		DeveloperID string                `json:"developerId"`
		Fields      map[string]TrustField `json:"fields"`
		Aggregation AggregationRules      `json:"aggregation"`
		Validation  ValidationRules       `json:"validation"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'developerId' and 'fields'",
		})
		return
	}

	schema, err := h.svc.Register(c.Request.Context(), appID, req.DeveloperID, req.Fields, req.Aggregation, req.Validation)
	if err != nil {
		respondError(c, err)
		return
	}

	logging.L(c.Request.Context()).Info("custom schema registered",
		"app_id", schema.AppID, "fields", len(schema.Fields))
	c.JSON(http.StatusOK, schema)
}

// SetField writes one wallet-scoped custom field value.
func (h *Handler) SetField(c *gin.Context) {
	appID := c.Param("appId")
	address := strings.ToLower(c.Param("address"))

	if !validation.IsValidWalletAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "address must be a valid wallet address (0x + 40 hex chars)",
		})
		return
	}

	var req struct {
		Field string  `json:"field"`
		Value float64 `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Field == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'field' and 'value'",
		})
		return
	}

	if err := h.svc.SetField(c.Request.Context(), address, appID, req.Field, req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "appId": appID, "field": req.Field, "value": req.Value})
}

// GetCompositeScore returns the blended score for (wallet, app).
func (h *Handler) GetCompositeScore(c *gin.Context) {
	appID := c.Param("appId")
	address := strings.ToLower(c.Param("address"))

	cs, err := h.svc.Composite(c.Request.Context(), address, appID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

// Verify checks a wallet's scores against app-supplied minimums.
func (h *Handler) Verify(c *gin.Context) {
	appID := c.Param("appId")
	address := strings.ToLower(c.Param("address"))

	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain threshold fields",
		})
		return
	}

	result, err := h.svc.Verify(c.Request.Context(), address, appID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
	case errors.Is(err, ErrSchemaNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "schema_not_found", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("custom metrics request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "An internal error occurred"})
	}
}
