// Package payments ingests payment processor webhooks.
//
// The escrow engine never talks to the processor directly; it only needs
// to learn that a buyer's payment cleared so the matching fund release
// condition can flip. Stripe is the first (and currently only) processor.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/sellora/escrowd/internal/fundrelease"
)

// maxWebhookBody bounds the webhook payload we are willing to read.
const maxWebhookBody = 256 * 1024

// releaseConditioner is the slice of the fund release service the webhook
// needs: flip a condition on the record tied to a sub-order.
type releaseConditioner interface {
	GetBySubOrder(ctx context.Context, subOrderID string) (*fundrelease.FundRelease, error)
	UpdateCondition(ctx context.Context, id string, cond fundrelease.Condition, value bool) (*fundrelease.FundRelease, error)
}

// StripeHandler verifies and applies Stripe webhook events.
type StripeHandler struct {
	releases      releaseConditioner
	signingSecret string
	logger        *slog.Logger
}

// NewStripeHandler creates the Stripe webhook handler.
func NewStripeHandler(releases releaseConditioner, signingSecret string, logger *slog.Logger) *StripeHandler {
	return &StripeHandler{
		releases:      releases,
		signingSecret: signingSecret,
		logger:        logger,
	}
}

// RegisterRoutes sets up the webhook route.
func (h *StripeHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.HandleWebhook)
}

// HandleWebhook handles POST /webhooks/stripe.
//
// Only payment_intent.succeeded moves state: the intent's metadata names
// the sub-orders whose payment cleared. Everything else is acknowledged
// and dropped, and an event for an unknown sub-order returns 200 so
// Stripe stops retrying it.
func (h *StripeHandler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "message": "could not read request body"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.signingSecret)
	if err != nil {
		h.logger.Warn("stripe signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "webhook signature verification failed"})
		return
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "message": "malformed payment intent"})
			return
		}
		h.applyPaymentCleared(c, &intent)
	default:
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": string(event.Type)})
	}
}

// applyPaymentCleared flips paymentCleared on every fund release named in
// the intent's metadata. Checkout writes the sub-order IDs under
// "sub_order_ids" as a comma-separated list.
func (h *StripeHandler) applyPaymentCleared(c *gin.Context, intent *stripe.PaymentIntent) {
	ids := splitIDs(intent.Metadata["sub_order_ids"])
	if len(ids) == 0 {
		h.logger.Warn("payment intent without sub-order metadata", "intent", intent.ID)
		c.JSON(http.StatusOK, gin.H{"received": true, "updated": 0})
		return
	}

	updated := 0
	for _, subOrderID := range ids {
		fr, err := h.releases.GetBySubOrder(c.Request.Context(), subOrderID)
		if errors.Is(err, fundrelease.ErrNotFound) {
			h.logger.Warn("payment cleared for unknown sub-order", "subOrderId", subOrderID, "intent", intent.ID)
			continue
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to look up fund release"})
			return
		}
		if _, err := h.releases.UpdateCondition(c.Request.Context(), fr.ID, fundrelease.CondPaymentCleared, true); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update fund release"})
			return
		}
		updated++
	}

	h.logger.Info("payment cleared", "intent", intent.ID, "subOrders", len(ids), "updated", updated)
	c.JSON(http.StatusOK, gin.H{"received": true, "updated": updated})
}

func splitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
