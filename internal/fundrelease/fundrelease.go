// Package fundrelease runs the lifecycle of escrowed seller payouts.
//
// Flow:
//  1. Order placed → one FundRelease per sub-order, status Pending
//  2. Upstream signals flip conditions (payment cleared, delivery confirmed)
//  3. Sweep or condition update promotes eligible releases to Ready
//  4. Process credits the seller wallet → Released
//  5. Admin reversal debits it back → Reversed
//
// Status only advances Pending → Ready → Processing → Released | Failed;
// the single backward path is Released → Processing → Reversed | Failed
// via an explicit reversal. Processing is never a resting state: it is
// entered right before the ledger mutation and resolved to a terminal
// state in the same logical operation, including on failure.
package fundrelease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sellora/escrowd/internal/commission"
	"github.com/sellora/escrowd/internal/currency"
	"github.com/sellora/escrowd/internal/idgen"
	"github.com/sellora/escrowd/internal/metrics"
	"github.com/sellora/escrowd/internal/traces"
	"github.com/sellora/escrowd/internal/txn"
)

var (
	ErrNotFound          = errors.New("fund release not found")
	ErrInvalidTransition = errors.New("invalid fund release state transition")
	ErrUnknownCondition  = errors.New("unknown release condition")
	ErrInvalidInput      = errors.New("invalid input")
)

// Status is the state of a fund release.
type Status string

const (
	StatusPending    Status = "pending"    // created, waiting on conditions
	StatusReady      Status = "ready"      // conditions met, payout due
	StatusProcessing Status = "processing" // ledger mutation in flight
	StatusReleased   Status = "released"   // seller wallet credited
	StatusFailed     Status = "failed"     // payout attempt failed
	StatusReversed   Status = "reversed"   // released funds pulled back
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReady, StatusProcessing, StatusReleased, StatusFailed, StatusReversed:
		return true
	}
	return false
}

// IsTerminal reports whether no further forward transition is possible.
// Released is not terminal: it can still be reversed.
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusReversed
}

// Trigger labels which rule promoted a release to Ready, for audit.
type Trigger string

const (
	TriggerDeliveryConfirmed Trigger = "delivery_confirmed"
	TriggerProtectionExpired Trigger = "buyer_protection_expired"
	TriggerAdminRelease      Trigger = "admin_release"
)

// Condition names a boolean gate on a fund release.
type Condition string

const (
	CondPaymentCleared         Condition = "payment_cleared"
	CondVerificationComplete   Condition = "verification_complete"
	CondDeliveryConfirmed      Condition = "delivery_confirmed"
	CondBuyerProtectionExpired Condition = "buyer_protection_expired"
)

// Conditions tracks which gates have been satisfied.
type Conditions struct {
	PaymentCleared         bool       `json:"paymentCleared"`
	PaymentClearedAt       *time.Time `json:"paymentClearedAt,omitempty"`
	VerificationComplete   bool       `json:"verificationComplete"`
	DeliveryConfirmed      bool       `json:"deliveryConfirmed"`
	BuyerProtectionExpired bool       `json:"buyerProtectionExpired"`
}

// ReleaseRules snapshots the policy applied to this release at creation.
type ReleaseRules struct {
	VerificationStatus   string `json:"verificationStatus,omitempty"`
	StoreTier            string `json:"storeTier,omitempty"`
	BusinessDaysRequired int    `json:"businessDaysRequired"`
	DeliveryRequired     bool   `json:"deliveryRequired"`
}

// Settlement is the payout breakdown computed at creation time.
type Settlement struct {
	Amount               currency.Amount `json:"amount"`
	ShippingPrice        currency.Amount `json:"shippingPrice"`
	Commission           currency.Amount `json:"commission"`
	AppliedPercentageFee currency.Amount `json:"appliedPercentageFee"`
	AppliedFlatFee       currency.Amount `json:"appliedFlatFee"`
}

// FundRelease is the payout record for one sub-order, 1:1.
type FundRelease struct {
	ID                   string       `json:"id"`
	StoreID              string       `json:"storeId"`
	OrderID              string       `json:"orderId"`
	SubOrderID           string       `json:"subOrderId"`
	WalletID             string       `json:"walletId"`
	Settlement           Settlement   `json:"settlement"`
	Rules                ReleaseRules `json:"releaseRules"`
	OrderPlacedAt        time.Time    `json:"orderPlacedAt"`
	ScheduledReleaseTime time.Time    `json:"scheduledReleaseTime"`
	Status               Status       `json:"status"`
	Conditions           Conditions   `json:"conditionsMet"`
	Trigger              Trigger      `json:"trigger,omitempty"`
	ActualReleasedAt     *time.Time   `json:"actualReleasedAt,omitempty"`
	AdminNotes           string       `json:"adminNotes,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

// Store persists fund releases.
type Store interface {
	Create(ctx context.Context, fr *FundRelease) error
	Get(ctx context.Context, id string) (*FundRelease, error)
	GetBySubOrder(ctx context.Context, subOrderID string) (*FundRelease, error)
	// Update persists fr inside the caller's session; a nil session is an
	// autonomous write (used to record Failed outcomes after an abort).
	Update(ctx context.Context, sess txn.Session, fr *FundRelease) error
	// ClaimProcessing atomically moves a release from `from` into
	// Processing, stamping updated_at. Exactly one of several concurrent
	// callers succeeds; the rest get ErrInvalidTransition and the record
	// is left untouched for them.
	ClaimProcessing(ctx context.Context, sess txn.Session, id string, from Status, at time.Time) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*FundRelease, error)
}

// LedgerService abstracts wallet mutations so fundrelease doesn't import
// the wallet package. Both calls append exactly one ledger entry.
type LedgerService interface {
	Credit(ctx context.Context, sess txn.Session, walletID string, amount, shipping currency.Amount, reference, description string) (txnID string, err error)
	Debit(ctx context.Context, sess txn.Session, walletID string, amount, shipping currency.Amount, reference, description string) (txnID string, err error)
}

// CreateRequest carries the sub-order context needed to open a release.
type CreateRequest struct {
	StoreID       string
	OrderID       string
	SubOrderID    string
	WalletID      string
	GrossAmount   currency.Amount
	ShippingPrice currency.Amount
	OrderPlacedAt time.Time
	Rules         ReleaseRules
}

// SweepResult summarizes one AutoTransitionPending pass.
type SweepResult struct {
	Checked      int `json:"checked"`
	Transitioned int `json:"transitioned"`
}

// Service implements the fund release state machine.
type Service struct {
	store  Store
	ledger LedgerService
	txns   txn.Provider
	calc   commission.Calculator
	rules  Ruleset
	now    func() time.Time
}

// NewService creates the state machine. The ruleset decides eligibility;
// swap it to change release policy without touching the machine.
func NewService(store Store, ledger LedgerService, txns txn.Provider, calc commission.Calculator, rules Ruleset) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		txns:   txns,
		calc:   calc,
		rules:  rules,
		now:    time.Now,
	}
}

// WithClock overrides the time source (for tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create opens the payout record for a sub-order. Escrow funding is
// confirmed upstream before orders reach this service, so paymentCleared
// starts true. BuyerProtectionExpired also starts true under the base
// ruleset; the scheduled ruleset ignores it and gates on
// ScheduledReleaseTime instead.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*FundRelease, error) {
	if req.SubOrderID == "" || req.WalletID == "" {
		return nil, fmt.Errorf("%w: sub-order and wallet IDs are required", ErrInvalidInput)
	}

	b := s.calc.Calculate(req.GrossAmount)
	now := s.now().UTC()

	fr := &FundRelease{
		ID:         idgen.WithPrefix("fr_"),
		StoreID:    req.StoreID,
		OrderID:    req.OrderID,
		SubOrderID: req.SubOrderID,
		WalletID:   req.WalletID,
		Settlement: Settlement{
			Amount:               b.SettleAmount,
			ShippingPrice:        req.ShippingPrice,
			Commission:           b.Commission,
			AppliedPercentageFee: b.PercentageFee,
			AppliedFlatFee:       b.FlatFeeApplied,
		},
		Rules:                req.Rules,
		OrderPlacedAt:        req.OrderPlacedAt,
		ScheduledReleaseTime: AddBusinessDays(req.OrderPlacedAt, req.Rules.BusinessDaysRequired),
		Status:               StatusPending,
		Conditions: Conditions{
			PaymentCleared:         true,
			PaymentClearedAt:       &now,
			BuyerProtectionExpired: true,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, fr); err != nil {
		return nil, fmt.Errorf("create fund release: %w", err)
	}
	return fr, nil
}

// MarkDeliveryConfirmed flips the delivery gate on the release tied to a
// sub-order. Convenience for webhook callers that only know the sub-order.
func (s *Service) MarkDeliveryConfirmed(ctx context.Context, subOrderID string, confirmed bool) error {
	fr, err := s.store.GetBySubOrder(ctx, subOrderID)
	if err != nil {
		return err
	}
	_, err = s.UpdateCondition(ctx, fr.ID, CondDeliveryConfirmed, confirmed)
	return err
}

// UpdateCondition flips one gate and, if the release is Pending and the
// ruleset now considers it eligible, advances it to Ready and stamps the
// trigger. Missing records return ErrNotFound.
func (s *Service) UpdateCondition(ctx context.Context, id string, cond Condition, value bool) (*FundRelease, error) {
	fr, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	switch cond {
	case CondPaymentCleared:
		fr.Conditions.PaymentCleared = value
		if value {
			fr.Conditions.PaymentClearedAt = &now
		} else {
			fr.Conditions.PaymentClearedAt = nil
		}
	case CondVerificationComplete:
		fr.Conditions.VerificationComplete = value
	case CondDeliveryConfirmed:
		fr.Conditions.DeliveryConfirmed = value
	case CondBuyerProtectionExpired:
		fr.Conditions.BuyerProtectionExpired = value
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCondition, cond)
	}
	fr.UpdatedAt = now

	if fr.Status == StatusPending && s.rules.Eligible(fr, now) {
		if trig, ok := s.rules.Trigger(fr, now); ok {
			fr.Trigger = trig
		}
		fr.Status = StatusReady
	}

	if err := s.store.Update(ctx, nil, fr); err != nil {
		return nil, fmt.Errorf("update fund release: %w", err)
	}
	return fr, nil
}

// Get returns a fund release by ID.
func (s *Service) Get(ctx context.Context, id string) (*FundRelease, error) {
	return s.store.Get(ctx, id)
}

// GetBySubOrder returns the fund release for a sub-order.
func (s *Service) GetBySubOrder(ctx context.Context, subOrderID string) (*FundRelease, error) {
	return s.store.GetBySubOrder(ctx, subOrderID)
}

// ListByStatus returns fund releases in the given state.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*FundRelease, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, status, limit)
}

// Process pays out a Ready release: Ready → Processing → Released, with
// the wallet credit of settle+shipping and the status change committing
// in one session. The Ready→Processing step is a store-level
// compare-and-set, so concurrent Process calls on the same release
// credit the wallet at most once; losers get ErrInvalidTransition.
// Any other failure lands the record in Failed with the cause in
// AdminNotes; it never rests in Processing.
func (s *Service) Process(ctx context.Context, id string) (*FundRelease, error) {
	ctx, span := traces.StartSpan(ctx, "fundrelease.Process", traces.ReleaseID(id))
	defer span.End()

	fr, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if fr.Status != StatusReady {
		return nil, fmt.Errorf("%w: cannot process release in status %q", ErrInvalidTransition, fr.Status)
	}

	sess, err := s.txns.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	defer sess.End()

	now := s.now().UTC()
	if err := s.store.ClaimProcessing(ctx, sess, fr.ID, StatusReady, now); err != nil {
		_ = sess.Abort()
		if errors.Is(err, ErrInvalidTransition) {
			// Lost the claim to a concurrent caller; their outcome stands.
			return nil, fmt.Errorf("%w: release %s is no longer ready", ErrInvalidTransition, fr.ID)
		}
		return nil, s.markFailed(ctx, fr, fmt.Errorf("enter processing: %w", err))
	}
	fr.Status = StatusProcessing
	fr.UpdatedAt = now

	_, err = s.ledger.Credit(ctx, sess, fr.WalletID,
		fr.Settlement.Amount, fr.Settlement.ShippingPrice,
		fr.ID, fmt.Sprintf("escrow release for sub-order %s", fr.SubOrderID))
	if err != nil {
		_ = sess.Abort()
		return nil, s.markFailed(ctx, fr, fmt.Errorf("wallet credit: %w", err))
	}

	released := s.now().UTC()
	fr.Status = StatusReleased
	fr.ActualReleasedAt = &released
	fr.UpdatedAt = released
	if err := s.store.Update(ctx, sess, fr); err != nil {
		_ = sess.Abort()
		return nil, s.markFailed(ctx, fr, fmt.Errorf("record release: %w", err))
	}

	if err := sess.Commit(); err != nil {
		return nil, s.markFailed(ctx, fr, fmt.Errorf("commit release: %w", err))
	}
	metrics.ReleasesTotal.WithLabelValues(string(StatusReleased)).Inc()
	metrics.ReleasedAmount.Add(float64(currency.Add(fr.Settlement.Amount, fr.Settlement.ShippingPrice)))
	return fr, nil
}

// Reverse pulls back a Released payout: Released → Processing → Reversed,
// mirroring Process with a wallet debit and the same compare-and-set
// claim. Only explicitly invoked by an admin. A failed reversal is rolled
// back, so the committed Released state stays authoritative and the error
// is surfaced to the caller.
func (s *Service) Reverse(ctx context.Context, id, reason string) (*FundRelease, error) {
	ctx, span := traces.StartSpan(ctx, "fundrelease.Reverse", traces.ReleaseID(id))
	defer span.End()

	fr, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if fr.Status != StatusReleased {
		return nil, fmt.Errorf("%w: cannot reverse release in status %q", ErrInvalidTransition, fr.Status)
	}

	sess, err := s.txns.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	defer sess.End()

	now := s.now().UTC()
	if err := s.store.ClaimProcessing(ctx, sess, fr.ID, StatusReleased, now); err != nil {
		_ = sess.Abort()
		if errors.Is(err, ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: release %s is no longer released", ErrInvalidTransition, fr.ID)
		}
		return nil, s.markFailed(ctx, fr, fmt.Errorf("enter processing: %w", err))
	}
	fr.Status = StatusProcessing
	fr.UpdatedAt = now

	_, err = s.ledger.Debit(ctx, sess, fr.WalletID,
		fr.Settlement.Amount, fr.Settlement.ShippingPrice,
		fr.ID, fmt.Sprintf("reversal of escrow release for sub-order %s", fr.SubOrderID))
	if err != nil {
		_ = sess.Abort()
		return nil, s.markFailed(ctx, fr, fmt.Errorf("wallet debit: %w", err))
	}

	fr.Status = StatusReversed
	fr.AdminNotes = appendNote(fr.AdminNotes, "reversed: "+reason)
	fr.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, sess, fr); err != nil {
		_ = sess.Abort()
		return nil, s.markFailed(ctx, fr, fmt.Errorf("record reversal: %w", err))
	}

	if err := sess.Commit(); err != nil {
		return nil, s.markFailed(ctx, fr, fmt.Errorf("commit reversal: %w", err))
	}
	metrics.ReleasesTotal.WithLabelValues(string(StatusReversed)).Inc()
	metrics.ReversedAmount.Add(float64(currency.Add(fr.Settlement.Amount, fr.Settlement.ShippingPrice)))
	return fr, nil
}

// AutoTransitionPending re-evaluates every Pending release and promotes
// the newly eligible ones to Ready. Runs on the sweep timer.
func (s *Service) AutoTransitionPending(ctx context.Context) (SweepResult, error) {
	pending, err := s.store.ListByStatus(ctx, StatusPending, 0)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list pending releases: %w", err)
	}

	res := SweepResult{Checked: len(pending)}
	now := s.now().UTC()
	for _, fr := range pending {
		if !s.rules.Eligible(fr, now) {
			continue
		}
		if trig, ok := s.rules.Trigger(fr, now); ok {
			fr.Trigger = trig
		}
		fr.Status = StatusReady
		fr.UpdatedAt = now
		if err := s.store.Update(ctx, nil, fr); err != nil {
			return res, fmt.Errorf("promote release %s: %w", fr.ID, err)
		}
		res.Transitioned++
	}
	return res, nil
}

// markFailed records a terminal Failed state with the cause in AdminNotes.
// The write is autonomous: the failed payout session has already been
// aborted, but the operator still needs to see what happened. The record
// is re-read first; if a concurrent caller already committed a Released
// or Reversed outcome, that outcome stands and only the error is
// returned.
func (s *Service) markFailed(ctx context.Context, fr *FundRelease, cause error) error {
	if cur, err := s.store.Get(ctx, fr.ID); err == nil {
		if cur.Status == StatusReleased || cur.Status == StatusReversed {
			return cause
		}
		fr = cur
	}
	fr.Status = StatusFailed
	fr.AdminNotes = appendNote(fr.AdminNotes, cause.Error())
	fr.UpdatedAt = s.now().UTC()
	metrics.ReleasesTotal.WithLabelValues(string(StatusFailed)).Inc()
	if uerr := s.store.Update(ctx, nil, fr); uerr != nil {
		return fmt.Errorf("%w (additionally failed to record failure: %v)", cause, uerr)
	}
	return cause
}

func appendNote(notes, add string) string {
	if notes == "" {
		return add
	}
	return notes + "; " + add
}

// AddBusinessDays advances t by n business days, skipping weekends.
func AddBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return t
}
