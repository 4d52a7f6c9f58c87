package order

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// releaseConditioner flips the delivery gate on the sub-order's fund
// release record when the carrier confirms delivery.
type releaseConditioner interface {
	MarkDeliveryConfirmed(ctx context.Context, subOrderID string, confirmed bool) error
}

// Handler provides order ingestion and the carrier status webhook.
type Handler struct {
	store     Store
	releases  releaseConditioner
	graceDays int
	logger    *slog.Logger
}

// NewHandler creates a new order handler. graceDays is the buyer return
// window opened when a sub-order is delivered.
func NewHandler(store Store, releases releaseConditioner, graceDays int, logger *slog.Logger) *Handler {
	return &Handler{store: store, releases: releases, graceDays: graceDays, logger: logger}
}

// RegisterRoutes sets up order routes on an admin-authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.CreateOrder)
	r.GET("/sub-orders/:subOrderId/order", h.GetOrder)
}

// RegisterWebhookRoutes sets up the carrier status webhook.
func (h *Handler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/delivery", h.DeliveryStatus)
}

// CreateOrder handles POST /orders. Storefront checkout pushes orders
// here once payment is captured, so escrow starts held.
func (h *Handler) CreateOrder(c *gin.Context) {
	var o Order
	if err := c.ShouldBindJSON(&o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed order"})
		return
	}
	if o.ID == "" || len(o.SubOrders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "order id and at least one sub-order required"})
		return
	}
	if o.PlacedAt.IsZero() {
		o.PlacedAt = time.Now().UTC()
	}
	for _, so := range o.SubOrders {
		so.OrderID = o.ID
		if so.ID == "" || so.StoreID == "" || so.TotalAmount <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "sub-orders need id, store id, and a positive amount"})
			return
		}
		if so.DeliveryStatus == "" {
			so.DeliveryStatus = StatusOrderPlaced
		}
		so.Escrow = EscrowState{Held: true}
	}

	if err := h.store.Create(c.Request.Context(), &o); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to store order"})
		return
	}
	c.JSON(http.StatusCreated, &o)
}

// GetOrder handles GET /sub-orders/:subOrderId/order.
func (h *Handler) GetOrder(c *gin.Context) {
	o, err := h.store.FindOrderContainingSubOrder(c.Request.Context(), c.Param("subOrderId"))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no order contains that sub-order"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load order"})
		return
	}
	c.JSON(http.StatusOK, o)
}

// DeliveryStatus handles POST /webhooks/delivery. The carrier
// integration posts every tracking update here; Delivered additionally
// stamps the delivery date, opens the return window, and flips the fund
// release delivery gate.
func (h *Handler) DeliveryStatus(c *gin.Context) {
	var req struct {
		SubOrderID string `json:"subOrderId" binding:"required"`
		Status     string `json:"status" binding:"required"`
		Notes      string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "subOrderId and status required"})
		return
	}
	status := DeliveryStatus(req.Status)
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "unknown delivery status"})
		return
	}

	ctx := c.Request.Context()
	o, err := h.store.FindOrderContainingSubOrder(ctx, req.SubOrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no order contains that sub-order"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load order"})
		return
	}
	so := o.SubOrder(req.SubOrderID)
	if so == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "sub-order not found"})
		return
	}
	if so.DeliveryStatus.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "terminal_status", "message": "sub-order is in a terminal delivery state"})
		return
	}

	so.SetDeliveryStatus(status, req.Notes, time.Now().UTC(), h.graceDays)
	if err := h.store.Save(ctx, nil, o); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to save order"})
		return
	}

	if status == StatusDelivered && h.releases != nil {
		if err := h.releases.MarkDeliveryConfirmed(ctx, so.ID, true); err != nil {
			// The sweep will catch up from the order record; don't fail the webhook.
			h.logger.Warn("delivery gate update failed", "subOrderId", so.ID, "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"subOrderId":     so.ID,
		"deliveryStatus": so.DeliveryStatus,
		"deliveryDate":   so.DeliveryDate,
		"returnWindow":   so.ReturnWindow,
	})
}
