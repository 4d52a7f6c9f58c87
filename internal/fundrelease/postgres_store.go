package fundrelease

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sellora/escrowd/internal/currency"
	"github.com/sellora/escrowd/internal/txn"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed fund release store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const releaseColumns = `
	id, store_id, order_id, sub_order_id, wallet_id,
	settle_amount, shipping_price, commission, pct_fee, flat_fee,
	verification_status, store_tier, business_days_required, delivery_required,
	order_placed_at, scheduled_release_time, status,
	payment_cleared, payment_cleared_at, verification_complete,
	delivery_confirmed, buyer_protection_expired,
	trigger_kind, actual_released_at, admin_notes, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, fr *FundRelease) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO fund_releases (`+releaseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,
		        $18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
	`, fr.ID, fr.StoreID, fr.OrderID, fr.SubOrderID, fr.WalletID,
		int64(fr.Settlement.Amount), int64(fr.Settlement.ShippingPrice),
		int64(fr.Settlement.Commission), int64(fr.Settlement.AppliedPercentageFee),
		int64(fr.Settlement.AppliedFlatFee),
		fr.Rules.VerificationStatus, fr.Rules.StoreTier,
		fr.Rules.BusinessDaysRequired, fr.Rules.DeliveryRequired,
		fr.OrderPlacedAt, fr.ScheduledReleaseTime, string(fr.Status),
		fr.Conditions.PaymentCleared, fr.Conditions.PaymentClearedAt,
		fr.Conditions.VerificationComplete, fr.Conditions.DeliveryConfirmed,
		fr.Conditions.BuyerProtectionExpired,
		nullIfEmpty(string(fr.Trigger)), fr.ActualReleasedAt,
		nullIfEmpty(fr.AdminNotes), fr.CreatedAt, fr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert fund release: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*FundRelease, error) {
	return p.getWhere(ctx, "id = $1", id)
}

func (p *PostgresStore) GetBySubOrder(ctx context.Context, subOrderID string) (*FundRelease, error) {
	return p.getWhere(ctx, "sub_order_id = $1", subOrderID)
}

func (p *PostgresStore) getWhere(ctx context.Context, where, arg string) (*FundRelease, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+releaseColumns+` FROM fund_releases WHERE `+where, arg)
	fr, err := scanRelease(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return fr, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelease(row rowScanner) (*FundRelease, error) {
	fr := &FundRelease{}
	var (
		settle, shipping, comm, pctFee, flatFee int64
		verStatus, tier                         sql.NullString
		status                                  string
		trigger, notes                          sql.NullString
	)
	err := row.Scan(&fr.ID, &fr.StoreID, &fr.OrderID, &fr.SubOrderID, &fr.WalletID,
		&settle, &shipping, &comm, &pctFee, &flatFee,
		&verStatus, &tier, &fr.Rules.BusinessDaysRequired, &fr.Rules.DeliveryRequired,
		&fr.OrderPlacedAt, &fr.ScheduledReleaseTime, &status,
		&fr.Conditions.PaymentCleared, &fr.Conditions.PaymentClearedAt,
		&fr.Conditions.VerificationComplete, &fr.Conditions.DeliveryConfirmed,
		&fr.Conditions.BuyerProtectionExpired,
		&trigger, &fr.ActualReleasedAt, &notes, &fr.CreatedAt, &fr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	fr.Settlement = Settlement{
		Amount:               currency.Amount(settle),
		ShippingPrice:        currency.Amount(shipping),
		Commission:           currency.Amount(comm),
		AppliedPercentageFee: currency.Amount(pctFee),
		AppliedFlatFee:       currency.Amount(flatFee),
	}
	fr.Rules.VerificationStatus = verStatus.String
	fr.Rules.StoreTier = tier.String
	fr.Status = Status(status)
	fr.Trigger = Trigger(trigger.String)
	fr.AdminNotes = notes.String
	return fr, nil
}

func (p *PostgresStore) Update(ctx context.Context, sess txn.Session, fr *FundRelease) error {
	var q interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	} = p.db
	if tx, ok := txn.Tx(sess); ok {
		q = tx
	}

	res, err := q.ExecContext(ctx, `
		UPDATE fund_releases SET
			status                   = $2,
			payment_cleared          = $3,
			payment_cleared_at       = $4,
			verification_complete    = $5,
			delivery_confirmed       = $6,
			buyer_protection_expired = $7,
			trigger_kind             = $8,
			actual_released_at       = $9,
			admin_notes              = $10,
			updated_at               = $11
		WHERE id = $1
	`, fr.ID, string(fr.Status),
		fr.Conditions.PaymentCleared, fr.Conditions.PaymentClearedAt,
		fr.Conditions.VerificationComplete, fr.Conditions.DeliveryConfirmed,
		fr.Conditions.BuyerProtectionExpired,
		nullIfEmpty(string(fr.Trigger)), fr.ActualReleasedAt,
		nullIfEmpty(fr.AdminNotes), fr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update fund release: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimProcessing relies on the conditional UPDATE: a concurrent claimer
// blocks on the row lock and then matches zero rows once the winner's
// status change is visible.
func (p *PostgresStore) ClaimProcessing(ctx context.Context, sess txn.Session, id string, from Status, at time.Time) error {
	var q interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	} = p.db
	if tx, ok := txn.Tx(sess); ok {
		q = tx
	}

	res, err := q.ExecContext(ctx, `
		UPDATE fund_releases SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, string(from), string(StatusProcessing), at)
	if err != nil {
		return fmt.Errorf("claim fund release: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*FundRelease, error) {
	query := `SELECT ` + releaseColumns + ` FROM fund_releases WHERE status = $1 ORDER BY created_at`
	args := []any{string(status)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*FundRelease
	for rows.Next() {
		fr, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, fr)
	}
	return result, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
