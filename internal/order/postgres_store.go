package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sellora/escrowd/internal/currency"
	"github.com/sellora/escrowd/internal/txn"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the caller's transaction when the session is SQL-backed,
// otherwise the pool.
func (p *PostgresStore) q(sess txn.Session) querier {
	if tx, ok := txn.Tx(sess); ok {
		return tx
	}
	return p.db
}

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_name, customer_email, placed_at)
		VALUES ($1, $2, $3, $4)
	`, o.ID, o.CustomerName, o.CustomerEmail, o.PlacedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, so := range o.SubOrders {
		if err := insertSubOrder(ctx, tx, so); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertSubOrder(ctx context.Context, q querier, so *SubOrder) error {
	history, err := json.Marshal(so.StatusHistory)
	if err != nil {
		return fmt.Errorf("marshal status history: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO sub_orders (
			id, order_id, store_id, store_name, seller_email,
			total_amount, shipping_price,
			delivery_status, delivery_date, return_window,
			escrow_held, escrow_released, escrow_released_at, escrow_refunded, refund_reason,
			status_history
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, so.ID, so.OrderID, so.StoreID, so.StoreName, so.SellerEmail,
		int64(so.TotalAmount), int64(so.ShippingPrice),
		string(so.DeliveryStatus), so.DeliveryDate, so.ReturnWindow,
		so.Escrow.Held, so.Escrow.Released, so.Escrow.ReleasedAt, so.Escrow.Refunded, so.Escrow.RefundReason,
		history)
	if err != nil {
		return fmt.Errorf("insert sub-order %s: %w", so.ID, err)
	}
	return nil
}

func (p *PostgresStore) FindOrderContainingSubOrder(ctx context.Context, subOrderID string) (*Order, error) {
	o := &Order{}
	err := p.db.QueryRowContext(ctx, `
		SELECT o.id, o.customer_name, o.customer_email, o.placed_at
		FROM orders o
		JOIN sub_orders s ON s.order_id = o.id
		WHERE s.id = $1
	`, subOrderID).Scan(&o.ID, &o.CustomerName, &o.CustomerEmail, &o.PlacedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, order_id, store_id, store_name, seller_email,
		       total_amount, shipping_price,
		       delivery_status, delivery_date, return_window,
		       escrow_held, escrow_released, escrow_released_at, escrow_refunded, refund_reason,
		       settlement_amount, settlement_shipping, settlement_commission,
		       settlement_pct_fee, settlement_flat_fee, settlement_notes,
		       status_history
		FROM sub_orders
		WHERE order_id = $1
		ORDER BY id
	`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		so, err := scanSubOrder(rows)
		if err != nil {
			return nil, err
		}
		o.SubOrders = append(o.SubOrders, so)
	}
	return o, rows.Err()
}

func scanSubOrder(rows *sql.Rows) (*SubOrder, error) {
	so := &SubOrder{}
	var (
		total, shipping                   int64
		status                            string
		storeName, sellerEmail            sql.NullString
		refundReason                      sql.NullString
		settleAmt, settleShip, settleComm sql.NullInt64
		settlePct, settleFlat             sql.NullInt64
		settleNotes                       sql.NullString
		history                           []byte
	)
	err := rows.Scan(&so.ID, &so.OrderID, &so.StoreID, &storeName, &sellerEmail,
		&total, &shipping,
		&status, &so.DeliveryDate, &so.ReturnWindow,
		&so.Escrow.Held, &so.Escrow.Released, &so.Escrow.ReleasedAt, &so.Escrow.Refunded, &refundReason,
		&settleAmt, &settleShip, &settleComm, &settlePct, &settleFlat, &settleNotes,
		&history)
	if err != nil {
		return nil, err
	}
	so.StoreName = storeName.String
	so.SellerEmail = sellerEmail.String
	so.TotalAmount = currency.Amount(total)
	so.ShippingPrice = currency.Amount(shipping)
	so.DeliveryStatus = DeliveryStatus(status)
	so.Escrow.RefundReason = refundReason.String
	if settleAmt.Valid {
		so.Settlement = &Settlement{
			Amount:               currency.Amount(settleAmt.Int64),
			ShippingPrice:        currency.Amount(settleShip.Int64),
			Commission:           currency.Amount(settleComm.Int64),
			AppliedPercentageFee: currency.Amount(settlePct.Int64),
			AppliedFlatFee:       currency.Amount(settleFlat.Int64),
			Notes:                settleNotes.String,
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &so.StatusHistory); err != nil {
			return nil, fmt.Errorf("unmarshal status history for %s: %w", so.ID, err)
		}
	}
	return so, nil
}

func (p *PostgresStore) Save(ctx context.Context, sess txn.Session, o *Order) error {
	q := p.q(sess)

	res, err := q.ExecContext(ctx, `
		UPDATE orders SET customer_name = $2, customer_email = $3, placed_at = $4
		WHERE id = $1
	`, o.ID, o.CustomerName, o.CustomerEmail, o.PlacedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOrderNotFound
	}

	for _, so := range o.SubOrders {
		history, err := json.Marshal(so.StatusHistory)
		if err != nil {
			return fmt.Errorf("marshal status history: %w", err)
		}
		var settleAmt, settleShip, settleComm, settlePct, settleFlat sql.NullInt64
		var settleNotes sql.NullString
		if so.Settlement != nil {
			settleAmt = sql.NullInt64{Int64: int64(so.Settlement.Amount), Valid: true}
			settleShip = sql.NullInt64{Int64: int64(so.Settlement.ShippingPrice), Valid: true}
			settleComm = sql.NullInt64{Int64: int64(so.Settlement.Commission), Valid: true}
			settlePct = sql.NullInt64{Int64: int64(so.Settlement.AppliedPercentageFee), Valid: true}
			settleFlat = sql.NullInt64{Int64: int64(so.Settlement.AppliedFlatFee), Valid: true}
			settleNotes = sql.NullString{String: so.Settlement.Notes, Valid: true}
		}
		_, err = q.ExecContext(ctx, `
			UPDATE sub_orders SET
				delivery_status    = $2,
				delivery_date      = $3,
				return_window      = $4,
				escrow_held        = $5,
				escrow_released    = $6,
				escrow_released_at = $7,
				escrow_refunded    = $8,
				refund_reason      = $9,
				settlement_amount     = $10,
				settlement_shipping   = $11,
				settlement_commission = $12,
				settlement_pct_fee    = $13,
				settlement_flat_fee   = $14,
				settlement_notes      = $15,
				status_history     = $16
			WHERE id = $1
		`, so.ID, string(so.DeliveryStatus), so.DeliveryDate, so.ReturnWindow,
			so.Escrow.Held, so.Escrow.Released, so.Escrow.ReleasedAt,
			so.Escrow.Refunded, nullIfEmpty(so.Escrow.RefundReason),
			settleAmt, settleShip, settleComm, settlePct, settleFlat, settleNotes,
			history)
		if err != nil {
			return fmt.Errorf("update sub-order %s: %w", so.ID, err)
		}
	}
	return nil
}

// ReleaseEscrow is a compare-and-set on the escrow flags: the WHERE clause
// only matches a held, unreleased sub-order, so of two concurrent release
// transactions exactly one sees a row to update.
func (p *PostgresStore) ReleaseEscrow(ctx context.Context, sess txn.Session, subOrderID string, st *Settlement, at time.Time) error {
	q := p.q(sess)

	res, err := q.ExecContext(ctx, `
		UPDATE sub_orders SET
			escrow_held           = FALSE,
			escrow_released       = TRUE,
			escrow_released_at    = $2,
			settlement_amount     = $3,
			settlement_shipping   = $4,
			settlement_commission = $5,
			settlement_pct_fee    = $6,
			settlement_flat_fee   = $7,
			settlement_notes      = $8
		WHERE id = $1 AND escrow_held AND NOT escrow_released
	`, subOrderID, at,
		int64(st.Amount), int64(st.ShippingPrice), int64(st.Commission),
		int64(st.AppliedPercentageFee), int64(st.AppliedFlatFee),
		nullIfEmpty(st.Notes))
	if err != nil {
		return fmt.Errorf("release escrow for %s: %w", subOrderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEscrowNotReleasable
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
