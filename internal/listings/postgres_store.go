package listings

import (
	"context"
	"database/sql"
)

// PostgresStore persists listing data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, seller_id, title, make, model, year,
			price_minor, currency, status, sold_price_minor,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12
		)`,
		l.ID, l.SellerID, l.Title, l.Make, l.Model, l.Year,
		l.PriceMinor, l.Currency, string(l.Status), l.SoldPriceMinor,
		l.CreatedAt, l.UpdatedAt,
	)
	return err
}

const listingColumns = `id, seller_id, title, make, model, year,
		       price_minor, currency, status, sold_price_minor,
		       created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)

	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrListingNotFound
	}
	return l, err
}

func (p *PostgresStore) Update(ctx context.Context, l *Listing) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET
			title = $1, price_minor = $2, status = $3,
			sold_price_minor = $4, updated_at = $5
		WHERE id = $6`,
		l.Title, l.PriceMinor, string(l.Status),
		l.SoldPriceMinor, l.UpdatedAt,
		l.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(s scanner) (*Listing, error) {
	l := &Listing{}
	var status string

	err := s.Scan(
		&l.ID, &l.SellerID, &l.Title, &l.Make, &l.Model, &l.Year,
		&l.PriceMinor, &l.Currency, &status, &l.SoldPriceMinor,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Status = Status(status)
	return l, nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
