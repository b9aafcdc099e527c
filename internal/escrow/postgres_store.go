package escrow

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists escrow records in PostgreSQL. Updates are
// conditional on the version column, so a concurrent writer that read
// the same version loses with ErrConflict.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, r *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (
			id, listing_id, buyer_id, seller_id,
			amount_minor, fee_minor, currency,
			funding_deadline, release_deadline,
			status, outcome, disputed, dispute_reason, dispute_opened_at,
			resolution_notes, arbitrator_id, release_code,
			payment_ref, transfer_ref, refund_ref, refund_minor,
			version, created_at, updated_at, resolved_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17,
			$18, $19, $20, $21,
			$22, $23, $24, $25
		)`,
		r.ID, r.ListingID, r.BuyerID, r.SellerID,
		r.AmountMinor, r.FeeMinor, r.Currency,
		r.FundingDeadline, r.ReleaseDeadline,
		string(r.Status), nullString(string(r.Outcome)), r.Disputed, nullString(r.DisputeReason), nullTime(r.DisputeOpenedAt),
		nullString(r.ResolutionNotes), nullString(r.ArbitratorID), r.ReleaseCode,
		nullString(r.PaymentRef), nullString(r.TransferRef), nullString(r.RefundRef), r.RefundMinor,
		r.Version, r.CreatedAt, r.UpdatedAt, nullTime(r.ResolvedAt),
	)
	return err
}

const escrowColumns = `id, listing_id, buyer_id, seller_id,
		       amount_minor, fee_minor, currency,
		       funding_deadline, release_deadline,
		       status, outcome, disputed, dispute_reason, dispute_opened_at,
		       resolution_notes, arbitrator_id, release_code,
		       payment_ref, transfer_ref, refund_ref, refund_minor,
		       version, created_at, updated_at, resolved_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return r, err
}

// Update writes the record only if the stored version still matches the
// version the caller read. Zero affected rows from a known ID means a
// concurrent writer advanced the version first.
func (p *PostgresStore) Update(ctx context.Context, r *Record) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			status = $1, outcome = $2, disputed = $3,
			dispute_reason = $4, dispute_opened_at = $5,
			resolution_notes = $6, arbitrator_id = $7,
			payment_ref = $8, transfer_ref = $9, refund_ref = $10, refund_minor = $11,
			version = version + 1, updated_at = $12, resolved_at = $13
		WHERE id = $14 AND version = $15`,
		string(r.Status), nullString(string(r.Outcome)), r.Disputed,
		nullString(r.DisputeReason), nullTime(r.DisputeOpenedAt),
		nullString(r.ResolutionNotes), nullString(r.ArbitratorID),
		nullString(r.PaymentRef), nullString(r.TransferRef), nullString(r.RefundRef), r.RefundMinor,
		r.UpdatedAt, nullTime(r.ResolvedAt),
		r.ID, r.Version,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM escrows WHERE id = $1)`, r.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrEscrowNotFound
		}
		return ErrConflict
	}
	r.Version++
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

func (p *PostgresStore) ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = 'funded'
		  AND disputed = FALSE
		  AND release_deadline <= $1
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

func (p *PostgresStore) ListFundingExpired(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = 'initiated'
		  AND funding_deadline <= $1
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*Record, error) {
	r := &Record{}
	var (
		status          string
		outcome         sql.NullString
		disputeReason   sql.NullString
		disputeOpenedAt sql.NullTime
		resolutionNotes sql.NullString
		arbitratorID    sql.NullString
		paymentRef      sql.NullString
		transferRef     sql.NullString
		refundRef       sql.NullString
		resolvedAt      sql.NullTime
	)

	err := s.Scan(
		&r.ID, &r.ListingID, &r.BuyerID, &r.SellerID,
		&r.AmountMinor, &r.FeeMinor, &r.Currency,
		&r.FundingDeadline, &r.ReleaseDeadline,
		&status, &outcome, &r.Disputed, &disputeReason, &disputeOpenedAt,
		&resolutionNotes, &arbitratorID, &r.ReleaseCode,
		&paymentRef, &transferRef, &refundRef, &r.RefundMinor,
		&r.Version, &r.CreatedAt, &r.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = Status(status)
	r.Outcome = Outcome(outcome.String)
	r.DisputeReason = disputeReason.String
	r.ResolutionNotes = resolutionNotes.String
	r.ArbitratorID = arbitratorID.String
	r.PaymentRef = paymentRef.String
	r.TransferRef = transferRef.String
	r.RefundRef = refundRef.String
	if disputeOpenedAt.Valid {
		r.DisputeOpenedAt = &disputeOpenedAt.Time
	}
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.Time
	}

	return r, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var result []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
