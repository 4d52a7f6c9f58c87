package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for wallet inspection.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new wallet handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up wallet routes on an admin-authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallets/:id", h.GetWallet)
	r.GET("/wallets/:id/transactions", h.ListTransactions)
	r.GET("/wallets/:id/reconcile", h.Reconcile)
	r.GET("/stores/:storeId/wallet", h.GetStoreWallet)
}

// GetWallet handles GET /wallets/:id.
func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.ledger.Store().Find(c.Request.Context(), nil, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "wallet not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load wallet"})
		return
	}
	c.JSON(http.StatusOK, w)
}

// GetStoreWallet handles GET /stores/:storeId/wallet.
func (h *Handler) GetStoreWallet(c *gin.Context) {
	w, err := h.ledger.Store().FindByStore(c.Request.Context(), nil, c.Param("storeId"))
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "store has no wallet"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load wallet"})
		return
	}
	c.JSON(http.StatusOK, w)
}

// ListTransactions handles GET /wallets/:id/transactions?limit=50.
func (h *Handler) ListTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	txns, err := h.ledger.Store().ListTransactions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}

// Reconcile handles GET /wallets/:id/reconcile. Compares the wallet
// balance against the net of its ledger entries.
func (h *Handler) Reconcile(c *gin.Context) {
	res, err := h.ledger.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "wallet not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "reconciliation failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}
