package fundrelease

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sellora/escrowd/internal/currency"
)

// Handler provides HTTP endpoints for the fund release pipeline.
type Handler struct {
	service *Service
}

// NewHandler creates a new fund release handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up fund release routes on an admin-authenticated
// group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/fund-releases", h.CreateRelease)
	r.GET("/fund-releases", h.ListReleases)
	r.GET("/fund-releases/:id", h.GetRelease)
	r.POST("/fund-releases/:id/conditions", h.UpdateCondition)
	r.POST("/fund-releases/:id/process", h.ProcessRelease)
	r.POST("/fund-releases/:id/reverse", h.ReverseRelease)
	r.POST("/fund-releases/sweep", h.Sweep)
}

// CreateRelease handles POST /fund-releases. Checkout calls this once per
// sub-order after the buyer's payment is captured.
func (h *Handler) CreateRelease(c *gin.Context) {
	var req struct {
		StoreID              string `json:"storeId" binding:"required"`
		OrderID              string `json:"orderId" binding:"required"`
		SubOrderID           string `json:"subOrderId" binding:"required"`
		WalletID             string `json:"walletId" binding:"required"`
		GrossAmount          int64  `json:"grossAmount" binding:"required"`
		ShippingPrice        int64  `json:"shippingPrice"`
		OrderPlacedAt        string `json:"orderPlacedAt"`
		VerificationStatus   string `json:"verificationStatus"`
		StoreTier            string `json:"storeTier"`
		BusinessDaysRequired int    `json:"businessDaysRequired"`
		DeliveryRequired     bool   `json:"deliveryRequired"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "store, order, sub-order, wallet IDs and gross amount required"})
		return
	}
	if req.GrossAmount <= 0 || req.ShippingPrice < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "amounts must be positive minor units"})
		return
	}

	placedAt := time.Now().UTC()
	if req.OrderPlacedAt != "" {
		t, err := time.Parse(time.RFC3339, req.OrderPlacedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "orderPlacedAt must be RFC 3339"})
			return
		}
		placedAt = t.UTC()
	}

	fr, err := h.service.Create(c.Request.Context(), CreateRequest{
		StoreID:       req.StoreID,
		OrderID:       req.OrderID,
		SubOrderID:    req.SubOrderID,
		WalletID:      req.WalletID,
		GrossAmount:   currency.Amount(req.GrossAmount),
		ShippingPrice: currency.Amount(req.ShippingPrice),
		OrderPlacedAt: placedAt,
		Rules: ReleaseRules{
			VerificationStatus:   req.VerificationStatus,
			StoreTier:            req.StoreTier,
			BusinessDaysRequired: req.BusinessDaysRequired,
			DeliveryRequired:     req.DeliveryRequired,
		},
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create fund release"})
		return
	}
	c.JSON(http.StatusCreated, fr)
}

// ListReleases handles GET /fund-releases?status=pending&limit=50.
func (h *Handler) ListReleases(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusPending)))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "unknown fund release status"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	releases, err := h.service.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list fund releases"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"releases": releases, "count": len(releases)})
}

// GetRelease handles GET /fund-releases/:id. The id may also be a
// sub-order id, matching how the admin console links into the pipeline.
func (h *Handler) GetRelease(c *gin.Context) {
	id := c.Param("id")
	fr, err := h.service.Get(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		fr, err = h.service.GetBySubOrder(c.Request.Context(), id)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "fund release not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load fund release"})
		return
	}
	c.JSON(http.StatusOK, fr)
}

// UpdateCondition handles POST /fund-releases/:id/conditions.
func (h *Handler) UpdateCondition(c *gin.Context) {
	var req struct {
		Condition string `json:"condition" binding:"required"`
		Value     *bool  `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "condition and value required"})
		return
	}

	fr, err := h.service.UpdateCondition(c.Request.Context(), c.Param("id"), Condition(req.Condition), *req.Value)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "fund release not found"})
		case errors.Is(err, ErrUnknownCondition):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_condition", "message": err.Error()})
		case errors.Is(err, ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update condition"})
		}
		return
	}
	c.JSON(http.StatusOK, fr)
}

// ProcessRelease handles POST /fund-releases/:id/process.
func (h *Handler) ProcessRelease(c *gin.Context) {
	fr, err := h.service.Process(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "fund release not found"})
		case errors.Is(err, ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
		default:
			// Payout failed; the record is now Failed with the cause noted.
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "release_failed", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, fr)
}

// ReverseRelease handles POST /fund-releases/:id/reverse.
func (h *Handler) ReverseRelease(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "reason required"})
		return
	}

	fr, err := h.service.Reverse(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "fund release not found"})
		case errors.Is(err, ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
		default:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "reversal_failed", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, fr)
}

// Sweep handles POST /fund-releases/sweep, a manual run of the
// auto-transition pass the timer performs on its own schedule.
func (h *Handler) Sweep(c *gin.Context) {
	res, err := h.service.AutoTransitionPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}
