// Package wallet owns seller wallet balances and their transaction ledger.
//
// A wallet is only ever mutated through Ledger.Credit and Ledger.Debit,
// each of which pairs the balance change with exactly one appended
// Transaction. Both run against the caller's transaction session so the
// mutation commits (or aborts) together with the fund-release or sub-order
// status change that caused it.
package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/sellora/escrowd/internal/currency"
	"github.com/sellora/escrowd/internal/idgen"
	"github.com/sellora/escrowd/internal/txn"
)

var (
	ErrWalletNotFound = errors.New("wallet not found")
	ErrInvalidAmount  = errors.New("invalid amount")
)

// TransactionType distinguishes ledger entries.
type TransactionType string

const (
	TypeCredit TransactionType = "credit"
	TypeDebit  TransactionType = "debit"
)

// Wallet is a store's balance on the platform.
type Wallet struct {
	ID          string          `json:"id"`
	StoreID     string          `json:"storeId"`
	Balance     currency.Amount `json:"balance"`     // available for withdrawal
	Pending     currency.Amount `json:"pending"`     // escrowed, not yet confirmed
	TotalEarned currency.Amount `json:"totalEarned"` // lifetime credited
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID          string          `json:"id"`
	WalletID    string          `json:"walletId"`
	Type        TransactionType `json:"type"`
	Amount      currency.Amount `json:"amount"`
	Source      string          `json:"source"` // order, adjustment, reversal
	RelatedID   string          `json:"relatedId,omitempty"`
	RelatedType string          `json:"relatedType,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Meta carries the provenance recorded on a ledger entry.
type Meta struct {
	Source      string
	RelatedID   string
	RelatedType string
	Description string
}

// Store persists wallets and their ledger entries. Mutating methods take
// the caller's session; a nil session means an autonomous write.
type Store interface {
	Find(ctx context.Context, sess txn.Session, walletID string) (*Wallet, error)
	FindByStore(ctx context.Context, sess txn.Session, storeID string) (*Wallet, error)
	Save(ctx context.Context, sess txn.Session, w *Wallet) error
	InsertTransaction(ctx context.Context, sess txn.Session, t *Transaction) error
	ListTransactions(ctx context.Context, walletID string, limit int) ([]*Transaction, error)
	Create(ctx context.Context, w *Wallet) error
}

// Ledger applies credits and debits to wallets.
type Ledger struct {
	store Store
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Store exposes the underlying store for read-only queries.
func (l *Ledger) Store() Store {
	return l.store
}

// Credit releases escrowed funds into a wallet: balance and totalEarned
// increase by amount+shipping, pending decreases by the same (floored at
// zero), and one credit Transaction is appended.
func (l *Ledger) Credit(ctx context.Context, sess txn.Session, walletID string, amount, shipping currency.Amount, meta Meta) (*Transaction, error) {
	total := currency.Add(amount, shipping)
	if total <= 0 {
		return nil, ErrInvalidAmount
	}

	w, err := l.store.Find(ctx, sess, walletID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w.Balance = currency.Add(w.Balance, total)
	w.TotalEarned = currency.Add(w.TotalEarned, total)
	w.Pending = currency.SubFloor(w.Pending, total)
	w.UpdatedAt = now

	if err := l.store.Save(ctx, sess, w); err != nil {
		return nil, err
	}

	t := &Transaction{
		ID:          idgen.WithPrefix("wtx_"),
		WalletID:    w.ID,
		Type:        TypeCredit,
		Amount:      total,
		Source:      meta.Source,
		RelatedID:   meta.RelatedID,
		RelatedType: meta.RelatedType,
		Description: meta.Description,
		CreatedAt:   now,
	}
	if err := l.store.InsertTransaction(ctx, sess, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Debit is the mirror of Credit, used by reversals: balance and
// totalEarned decrease by amount+shipping (floored at zero), pending
// increases by the same, and one debit Transaction is appended.
func (l *Ledger) Debit(ctx context.Context, sess txn.Session, walletID string, amount, shipping currency.Amount, meta Meta) (*Transaction, error) {
	total := currency.Add(amount, shipping)
	if total <= 0 {
		return nil, ErrInvalidAmount
	}

	w, err := l.store.Find(ctx, sess, walletID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w.Balance = currency.SubFloor(w.Balance, total)
	w.TotalEarned = currency.SubFloor(w.TotalEarned, total)
	w.Pending = currency.Add(w.Pending, total)
	w.UpdatedAt = now

	if err := l.store.Save(ctx, sess, w); err != nil {
		return nil, err
	}

	t := &Transaction{
		ID:          idgen.WithPrefix("wtx_"),
		WalletID:    w.ID,
		Type:        TypeDebit,
		Amount:      total,
		Source:      meta.Source,
		RelatedID:   meta.RelatedID,
		RelatedType: meta.RelatedType,
		Description: meta.Description,
		CreatedAt:   now,
	}
	if err := l.store.InsertTransaction(ctx, sess, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ReconcileResult reports whether a wallet's balance agrees with the sum
// of its ledger entries.
type ReconcileResult struct {
	WalletID     string          `json:"walletId"`
	Balance      currency.Amount `json:"balance"`
	LedgerNet    currency.Amount `json:"ledgerNet"`
	Drift        currency.Amount `json:"drift"`
	Transactions int             `json:"transactions"`
	Match        bool            `json:"match"`
}

// Reconcile recomputes the wallet's net position from its transaction
// history and compares it against the stored balance. Debits that were
// floored at zero surface as drift, which is the point: drift means an
// operator needs to look.
func (l *Ledger) Reconcile(ctx context.Context, walletID string) (*ReconcileResult, error) {
	w, err := l.store.Find(ctx, nil, walletID)
	if err != nil {
		return nil, err
	}

	txns, err := l.store.ListTransactions(ctx, walletID, 0)
	if err != nil {
		return nil, err
	}

	var net currency.Amount
	for _, t := range txns {
		switch t.Type {
		case TypeCredit:
			net = currency.Add(net, t.Amount)
		case TypeDebit:
			net = currency.Sub(net, t.Amount)
		}
	}

	drift := currency.Sub(w.Balance, net)
	return &ReconcileResult{
		WalletID:     w.ID,
		Balance:      w.Balance,
		LedgerNet:    net,
		Drift:        drift,
		Transactions: len(txns),
		Match:        drift == 0,
	}, nil
}
