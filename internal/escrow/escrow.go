// Package escrow orchestrates the admin-initiated release of held funds.
//
// Release is the money-moving path of the service: it checks the admin's
// permission, verifies the sub-order is eligible, computes the commission
// breakdown, and then, in one transaction, flips the escrow flags, credits
// the seller wallet, and settles the sub-order's fund release record.
// Notifications and the audit trail run after commit and never unwind it.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sellora/escrowd/internal/audit"
	"github.com/sellora/escrowd/internal/authz"
	"github.com/sellora/escrowd/internal/commission"
	"github.com/sellora/escrowd/internal/currency"
	"github.com/sellora/escrowd/internal/fundrelease"
	"github.com/sellora/escrowd/internal/metrics"
	"github.com/sellora/escrowd/internal/notify"
	"github.com/sellora/escrowd/internal/order"
	"github.com/sellora/escrowd/internal/traces"
	"github.com/sellora/escrowd/internal/txn"
	"github.com/sellora/escrowd/internal/wallet"
)

var ErrInvalidSubOrderID = errors.New("invalid sub-order id")

// Eligibility failure reasons, surfaced verbatim to the admin console.
const (
	ReasonEscrowNotHeld    = "Escrow is not held for this sub-order"
	ReasonAlreadyReleased  = "Escrow funds have already been released"
	ReasonNotDelivered     = "Order has not been delivered"
	ReasonReturnWindowOpen = "Return window has not yet passed"
)

// NotEligibleError reports every release rule the sub-order currently
// violates, not just the first one found.
type NotEligibleError struct {
	SubOrderID string
	Reasons    []string
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("sub-order %s not eligible for release: %s",
		e.SubOrderID, strings.Join(e.Reasons, "; "))
}

// ReleaseResult summarizes a completed release.
type ReleaseResult struct {
	OrderID       string               `json:"orderId"`
	SubOrderID    string               `json:"subOrderId"`
	StoreID       string               `json:"storeId"`
	WalletID      string               `json:"walletId"`
	TransactionID string               `json:"transactionId"`
	Breakdown     commission.Breakdown `json:"breakdown"`
	ShippingPrice currency.Amount      `json:"shippingPrice"`
	TotalReleased currency.Amount      `json:"totalReleased"`
	NewBalance    currency.Amount      `json:"newBalance"`
	ReleasedAt    time.Time            `json:"releasedAt"`
}

// Orchestrator coordinates the release flow across orders, wallets, and
// fund release records.
type Orchestrator struct {
	orders   order.Store
	wallets  wallet.Store
	ledger   *wallet.Ledger
	releases fundrelease.Store
	txns     txn.Provider
	calc     commission.Calculator
	auth     authz.Authorizer
	trail    audit.Logger
	mailer   notify.Mailer
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator wires the release flow.
func NewOrchestrator(
	orders order.Store,
	wallets wallet.Store,
	ledger *wallet.Ledger,
	releases fundrelease.Store,
	txns txn.Provider,
	calc commission.Calculator,
	auth authz.Authorizer,
	trail audit.Logger,
	mailer notify.Mailer,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		orders:   orders,
		wallets:  wallets,
		ledger:   ledger,
		releases: releases,
		txns:     txns,
		calc:     calc,
		auth:     auth,
		trail:    trail,
		mailer:   mailer,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Used in tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Eligibility lists every release rule the sub-order violates right now.
// Empty means releasable.
func Eligibility(so *order.SubOrder, now time.Time) []string {
	var reasons []string
	if so.Escrow.Released {
		reasons = append(reasons, ReasonAlreadyReleased)
	} else if !so.Escrow.Held {
		reasons = append(reasons, ReasonEscrowNotHeld)
	}
	if so.DeliveryStatus != order.StatusDelivered {
		reasons = append(reasons, ReasonNotDelivered)
	}
	if !so.ReturnWindowPassed(now) {
		reasons = append(reasons, ReasonReturnWindowOpen)
	}
	return reasons
}

// Release moves a sub-order's held funds into the seller's wallet. An
// optional notes string is recorded on the settlement and the audit
// entry, for the admin to explain a manual release.
//
// Eligibility is checked twice: once up front so the admin gets every
// violated rule in one response, and again inside the transaction via the
// store's compare-and-set, so two concurrent releases of the same
// sub-order can never both credit the wallet.
func (o *Orchestrator) Release(ctx context.Context, admin *authz.Admin, subOrderID, notes string) (*ReleaseResult, error) {
	if err := o.auth.Authorize(admin, authz.PermReleaseEscrow); err != nil {
		return nil, err
	}
	if subOrderID == "" || len(subOrderID) > 64 {
		return nil, ErrInvalidSubOrderID
	}

	ctx, span := traces.StartSpan(ctx, "escrow.Release", traces.SubOrderID(subOrderID))
	defer span.End()

	ord, err := o.orders.FindOrderContainingSubOrder(ctx, subOrderID)
	if err != nil {
		return nil, err
	}
	so := ord.SubOrder(subOrderID)
	if so == nil {
		return nil, order.ErrSubOrderNotFound
	}

	now := o.now().UTC()
	if reasons := Eligibility(so, now); len(reasons) > 0 {
		return nil, &NotEligibleError{SubOrderID: subOrderID, Reasons: reasons}
	}

	breakdown := o.calc.Calculate(so.TotalAmount)
	total := currency.Add(breakdown.SettleAmount, so.ShippingPrice)
	span.SetAttributes(traces.StoreID(so.StoreID), traces.AmountMinor(int64(total)))

	sess, err := o.txns.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.End()

	w, err := o.wallets.FindByStore(ctx, sess, so.StoreID)
	if err != nil {
		sess.Abort()
		return nil, err
	}
	span.SetAttributes(traces.WalletID(w.ID))

	settlement := &order.Settlement{
		Amount:               breakdown.SettleAmount,
		ShippingPrice:        so.ShippingPrice,
		Commission:           breakdown.Commission,
		AppliedPercentageFee: breakdown.PercentageFee,
		AppliedFlatFee:       breakdown.FlatFeeApplied,
		Notes:                notes,
	}
	if err := o.orders.ReleaseEscrow(ctx, sess, subOrderID, settlement, now); err != nil {
		sess.Abort()
		if errors.Is(err, order.ErrEscrowNotReleasable) {
			// Lost the race: someone released between our read and this write.
			return nil, &NotEligibleError{SubOrderID: subOrderID, Reasons: []string{ReasonAlreadyReleased}}
		}
		return nil, err
	}

	wtx, err := o.ledger.Credit(ctx, sess, w.ID, breakdown.SettleAmount, so.ShippingPrice, wallet.Meta{
		Source:      "order",
		RelatedID:   subOrderID,
		RelatedType: "sub_order",
		Description: fmt.Sprintf("Escrow release for sub-order %s", subOrderID),
	})
	if err != nil {
		sess.Abort()
		return nil, err
	}

	if err := o.settleReleaseRecord(ctx, sess, subOrderID, now); err != nil {
		sess.Abort()
		return nil, err
	}

	if err := sess.Commit(); err != nil {
		return nil, err
	}

	metrics.ReleasesTotal.WithLabelValues("released").Inc()
	metrics.ReleasedAmount.Add(float64(total))

	result := &ReleaseResult{
		OrderID:       ord.ID,
		SubOrderID:    subOrderID,
		StoreID:       so.StoreID,
		WalletID:      w.ID,
		TransactionID: wtx.ID,
		Breakdown:     breakdown,
		ShippingPrice: so.ShippingPrice,
		TotalReleased: total,
		NewBalance:    currency.Add(w.Balance, total),
		ReleasedAt:    now,
	}

	o.logger.Info("escrow released",
		"subOrderId", subOrderID,
		"storeId", so.StoreID,
		"walletId", w.ID,
		"gross", breakdown.Gross,
		"commission", breakdown.Commission,
		"released", total,
		"admin", admin.ID,
	)
	o.afterRelease(ctx, admin, ord, so, result, notes)
	return result, nil
}

// settleReleaseRecord marks the sub-order's fund release record released
// inside the same transaction. A missing record is fine: orders created
// before the fund release pipeline simply do not have one.
func (o *Orchestrator) settleReleaseRecord(ctx context.Context, sess txn.Session, subOrderID string, now time.Time) error {
	fr, err := o.releases.GetBySubOrder(ctx, subOrderID)
	if errors.Is(err, fundrelease.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if fr.Status != fundrelease.StatusPending && fr.Status != fundrelease.StatusReady {
		return nil
	}
	fr.Status = fundrelease.StatusReleased
	fr.Trigger = fundrelease.TriggerAdminRelease
	fr.ActualReleasedAt = &now
	fr.UpdatedAt = now
	return o.releases.Update(ctx, sess, fr)
}

// afterRelease handles the best-effort tail: audit trail and seller /
// buyer email. Failures are logged and swallowed.
func (o *Orchestrator) afterRelease(ctx context.Context, admin *authz.Admin, ord *order.Order, so *order.SubOrder, res *ReleaseResult, notes string) {
	details := map[string]any{
		"orderId":    ord.ID,
		"storeId":    so.StoreID,
		"walletId":   res.WalletID,
		"gross":      int64(res.Breakdown.Gross),
		"commission": int64(res.Breakdown.Commission),
		"released":   int64(res.TotalReleased),
	}
	if notes != "" {
		details["notes"] = notes
	}
	entry := audit.NewEntry(audit.ActionEscrowReleased, admin.ID, "sub_order", so.ID, details)
	if err := o.trail.Record(ctx, entry); err != nil {
		o.logger.Warn("audit write failed", "action", entry.Action, "target", so.ID, "error", err)
	}

	if so.SellerEmail != "" {
		mail := notify.Mail{
			To:      so.SellerEmail,
			Subject: fmt.Sprintf("Funds released for order %s", so.OrderID),
			Body: fmt.Sprintf(
				"Hello %s,\n\n"+
					"The escrow hold on sub-order %s has been released.\n\n"+
					"Order total:  %s\n"+
					"Commission:   %s\n"+
					"Shipping:     %s\n"+
					"Paid out:     %s\n\n"+
					"The amount is now available in your store wallet.\n",
				so.StoreName, so.ID,
				currency.Format(res.Breakdown.Gross),
				currency.Format(res.Breakdown.Commission),
				currency.Format(res.ShippingPrice),
				currency.Format(res.TotalReleased),
			),
		}
		if err := o.mailer.Send(ctx, mail); err != nil {
			o.logger.Warn("seller mail failed", "to", so.SellerEmail, "error", err)
		}
	}
	if ord.CustomerEmail != "" {
		mail := notify.Mail{
			To:      ord.CustomerEmail,
			Subject: fmt.Sprintf("Order %s is complete", ord.ID),
			Body: fmt.Sprintf(
				"Hello %s,\n\n"+
					"Your order %s is complete and payment has been settled "+
					"with the seller. Thank you for shopping with us.\n",
				ord.CustomerName, ord.ID,
			),
		}
		if err := o.mailer.Send(ctx, mail); err != nil {
			o.logger.Warn("buyer mail failed", "to", ord.CustomerEmail, "error", err)
		}
	}
}
