// Package order holds the read model of marketplace orders and sub-orders.
//
// Orders are owned by the storefront; the escrow engine treats them as
// context. The only fields this service writes back are the sub-order's
// escrow flags and settlement breakdown, which the release orchestrator
// persists in the same transaction as the wallet credit.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/sellora/escrowd/internal/currency"
	"github.com/sellora/escrowd/internal/txn"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrSubOrderNotFound    = errors.New("sub-order not found")
	ErrEscrowNotReleasable = errors.New("escrow is not in a releasable state")
)

// DeliveryStatus is the fulfillment state of a sub-order.
type DeliveryStatus string

const (
	StatusOrderPlaced    DeliveryStatus = "order_placed"
	StatusProcessing     DeliveryStatus = "processing"
	StatusShipped        DeliveryStatus = "shipped"
	StatusOutForDelivery DeliveryStatus = "out_for_delivery"
	StatusDelivered      DeliveryStatus = "delivered"
	StatusCanceled       DeliveryStatus = "canceled"
	StatusReturned       DeliveryStatus = "returned"
	StatusFailedDelivery DeliveryStatus = "failed_delivery"
	StatusRefunded       DeliveryStatus = "refunded"
)

// Valid reports whether s is a known delivery status.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusOrderPlaced, StatusProcessing, StatusShipped, StatusOutForDelivery,
		StatusDelivered, StatusCanceled, StatusReturned, StatusFailedDelivery, StatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether the sub-order can no longer change state.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case StatusCanceled, StatusReturned, StatusRefunded:
		return true
	}
	return false
}

// EscrowState tracks whether the buyer's payment for a sub-order is still
// held by the platform. Held and Released are never both true.
type EscrowState struct {
	Held         bool       `json:"held"`
	Released     bool       `json:"released"`
	ReleasedAt   *time.Time `json:"releasedAt,omitempty"`
	Refunded     bool       `json:"refunded"`
	RefundReason string     `json:"refundReason,omitempty"`
}

// Settlement is the commission breakdown written back at release time.
type Settlement struct {
	Amount               currency.Amount `json:"amount"`
	ShippingPrice        currency.Amount `json:"shippingPrice"`
	Commission           currency.Amount `json:"commission"`
	AppliedPercentageFee currency.Amount `json:"appliedPercentageFee"`
	AppliedFlatFee       currency.Amount `json:"appliedFlatFee"`
	Notes                string          `json:"notes,omitempty"`
}

// StatusEvent is one entry in a sub-order's append-only status history.
type StatusEvent struct {
	Status    DeliveryStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Notes     string         `json:"notes,omitempty"`
}

// SubOrder is the slice of an order belonging to a single store.
type SubOrder struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"orderId"`
	StoreID        string          `json:"storeId"`
	StoreName      string          `json:"storeName,omitempty"`
	SellerEmail    string          `json:"sellerEmail,omitempty"`
	TotalAmount    currency.Amount `json:"totalAmount"`
	ShippingPrice  currency.Amount `json:"shippingPrice"`
	DeliveryStatus DeliveryStatus  `json:"deliveryStatus"`
	DeliveryDate   *time.Time      `json:"deliveryDate,omitempty"`
	ReturnWindow   *time.Time      `json:"returnWindow,omitempty"`
	Escrow         EscrowState     `json:"escrow"`
	Settlement     *Settlement     `json:"settlement,omitempty"`
	StatusHistory  []StatusEvent   `json:"statusHistory,omitempty"`
}

// Order groups the sub-orders placed in one checkout.
type Order struct {
	ID            string      `json:"id"`
	CustomerName  string      `json:"customerName,omitempty"`
	CustomerEmail string      `json:"customerEmail,omitempty"`
	PlacedAt      time.Time   `json:"placedAt"`
	SubOrders     []*SubOrder `json:"subOrders"`
}

// SubOrder returns the sub-order with the given ID, or nil.
func (o *Order) SubOrder(id string) *SubOrder {
	for _, so := range o.SubOrders {
		if so.ID == id {
			return so
		}
	}
	return nil
}

// SetDeliveryStatus transitions the sub-order and appends to its status
// history. On Delivered it stamps the delivery date and opens the return
// window (delivery date + graceDays).
func (so *SubOrder) SetDeliveryStatus(status DeliveryStatus, notes string, now time.Time, graceDays int) {
	so.DeliveryStatus = status
	so.StatusHistory = append(so.StatusHistory, StatusEvent{
		Status:    status,
		Timestamp: now,
		Notes:     notes,
	})
	if status == StatusDelivered {
		d := now
		so.DeliveryDate = &d
		w := now.AddDate(0, 0, graceDays)
		so.ReturnWindow = &w
	}
}

// ReturnWindowPassed reports whether the buyer's return window has expired.
// A sub-order with no return window (not yet delivered) has not passed it.
func (so *SubOrder) ReturnWindowPassed(now time.Time) bool {
	return so.ReturnWindow != nil && now.After(*so.ReturnWindow)
}

// Store persists orders. Save and ReleaseEscrow run against the caller's
// transaction session so escrow write-backs commit atomically with the
// wallet mutation.
//
// ReleaseEscrow flips the sub-order's escrow flags and records the
// settlement breakdown, but only if escrow is currently held and not yet
// released. It returns ErrEscrowNotReleasable otherwise; two concurrent
// release attempts can therefore never both succeed.
type Store interface {
	FindOrderContainingSubOrder(ctx context.Context, subOrderID string) (*Order, error)
	Save(ctx context.Context, sess txn.Session, o *Order) error
	ReleaseEscrow(ctx context.Context, sess txn.Session, subOrderID string, st *Settlement, at time.Time) error
	Create(ctx context.Context, o *Order) error
}
