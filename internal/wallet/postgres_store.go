package wallet

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sellora/escrowd/internal/currency"
	"github.com/sellora/escrowd/internal/txn"
)

// PostgresStore implements Store with PostgreSQL. Amounts are BIGINT
// minor units; CHECK constraints keep balance and pending non-negative
// at the database level as a second line of defence.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *PostgresStore) q(sess txn.Session) querier {
	if tx, ok := txn.Tx(sess); ok {
		return tx
	}
	return p.db
}

func (p *PostgresStore) Create(ctx context.Context, w *Wallet) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (id, store_id, balance, pending, total_earned, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, w.ID, w.StoreID, int64(w.Balance), int64(w.Pending), int64(w.TotalEarned))
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

func (p *PostgresStore) Find(ctx context.Context, sess txn.Session, walletID string) (*Wallet, error) {
	return p.findWhere(ctx, sess, "id = $1", walletID)
}

func (p *PostgresStore) FindByStore(ctx context.Context, sess txn.Session, storeID string) (*Wallet, error) {
	return p.findWhere(ctx, sess, "store_id = $1", storeID)
}

// findWhere reads the wallet row FOR UPDATE when inside a session, so the
// read-modify-write in the Ledger is serialized on the wallet row.
func (p *PostgresStore) findWhere(ctx context.Context, sess txn.Session, where, arg string) (*Wallet, error) {
	query := `
		SELECT id, store_id, balance, pending, total_earned, updated_at
		FROM wallets WHERE ` + where
	if _, inTx := txn.Tx(sess); inTx {
		query += " FOR UPDATE"
	}

	w := &Wallet{}
	var balance, pending, earned int64
	err := p.q(sess).QueryRowContext(ctx, query, arg).
		Scan(&w.ID, &w.StoreID, &balance, &pending, &earned, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	w.Balance = currency.Amount(balance)
	w.Pending = currency.Amount(pending)
	w.TotalEarned = currency.Amount(earned)
	return w, nil
}

func (p *PostgresStore) Save(ctx context.Context, sess txn.Session, w *Wallet) error {
	res, err := p.q(sess).ExecContext(ctx, `
		UPDATE wallets SET
			balance      = $2,
			pending      = $3,
			total_earned = $4,
			updated_at   = NOW()
		WHERE id = $1
	`, w.ID, int64(w.Balance), int64(w.Pending), int64(w.TotalEarned))
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (p *PostgresStore) InsertTransaction(ctx context.Context, sess txn.Session, t *Transaction) error {
	_, err := p.q(sess).ExecContext(ctx, `
		INSERT INTO wallet_transactions (
			id, wallet_id, type, amount, source, related_id, related_type, description, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, t.ID, t.WalletID, string(t.Type), int64(t.Amount), t.Source,
		t.RelatedID, t.RelatedType, t.Description, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert wallet transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListTransactions(ctx context.Context, walletID string, limit int) ([]*Transaction, error) {
	query := `
		SELECT id, wallet_id, type, amount, source, related_id, related_type, description, created_at
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC`
	args := []any{walletID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		t := &Transaction{}
		var typ string
		var amt int64
		var relatedID, relatedType, description sql.NullString
		if err := rows.Scan(&t.ID, &t.WalletID, &typ, &amt, &t.Source,
			&relatedID, &relatedType, &description, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = TransactionType(typ)
		t.Amount = currency.Amount(amt)
		t.RelatedID = relatedID.String
		t.RelatedType = relatedType.String
		t.Description = description.String
		result = append(result, t)
	}
	return result, rows.Err()
}
