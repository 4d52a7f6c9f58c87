package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sellora/escrowd/internal/authz"
	"github.com/sellora/escrowd/internal/order"
	"github.com/sellora/escrowd/internal/wallet"
)

// Handler provides the admin release endpoint.
type Handler struct {
	orch *Orchestrator
}

// NewHandler creates a new escrow handler.
func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// RegisterRoutes sets up escrow routes on an admin-authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sub-orders/:subOrderId/release", h.Release)
	r.GET("/sub-orders/:subOrderId/eligibility", h.CheckEligibility)
}

// Release handles POST /sub-orders/:subOrderId/release. The body is
// optional: {"notes": "..."} attaches an admin note to the settlement.
func (h *Handler) Release(c *gin.Context) {
	admin := authz.FromGin(c)

	var req struct {
		Notes string `json:"notes"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Malformed request body"})
			return
		}
	}

	result, err := h.orch.Release(c.Request.Context(), admin, c.Param("subOrderId"), req.Notes)
	if err != nil {
		var ne *NotEligibleError
		switch {
		case errors.As(err, &ne):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "not_eligible",
				"message": "Sub-order is not eligible for release",
				"reasons": ne.Reasons,
			})
		case errors.Is(err, authz.ErrUnauthorized):
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Missing escrow:release permission"})
		case errors.Is(err, ErrInvalidSubOrderID):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid sub-order id"})
		case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, order.ErrSubOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Sub-order not found"})
		case errors.Is(err, wallet.ErrWalletNotFound):
			c.JSON(http.StatusConflict, gin.H{"error": "wallet_missing", "message": "Store has no wallet to receive funds"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Release failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true, "result": result})
}

// CheckEligibility handles GET /sub-orders/:subOrderId/eligibility.
// Read-only preview of the same rules Release enforces.
func (h *Handler) CheckEligibility(c *gin.Context) {
	subOrderID := c.Param("subOrderId")
	ord, err := h.orch.orders.FindOrderContainingSubOrder(c.Request.Context(), subOrderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Sub-order not found"})
		return
	}
	so := ord.SubOrder(subOrderID)
	if so == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Sub-order not found"})
		return
	}
	reasons := Eligibility(so, h.orch.now())
	c.JSON(http.StatusOK, gin.H{
		"subOrderId": subOrderID,
		"eligible":   len(reasons) == 0,
		"reasons":    reasons,
	})
}
