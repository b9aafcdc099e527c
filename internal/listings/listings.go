// Package listings manages vehicle listings on the marketplace.
//
// A listing moves through a small lifecycle driven by the escrow flow:
// available → pending_sale (an escrow was opened against it) →
// sold (the escrow settled in the seller's favor), or back to
// available when the escrow falls through.
package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lotline/lotline/internal/idgen"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrNotSellable     = errors.New("listing is not available for sale")
	ErrUnauthorized    = errors.New("not authorized for this listing operation")
	ErrInvalidPrice    = errors.New("invalid listing price")
)

// Status represents the sale state of a listing.
type Status string

const (
	StatusAvailable   Status = "available"    // Listed, open to offers
	StatusPendingSale Status = "pending_sale" // Reserved by an active escrow
	StatusSold        Status = "sold"         // Escrow settled, vehicle sold
	StatusWithdrawn   Status = "withdrawn"    // Removed by the seller
)

// Listing represents a vehicle offered for sale.
type Listing struct {
	ID             string    `json:"id"`
	SellerID       string    `json:"sellerId"`
	Title          string    `json:"title"`
	Make           string    `json:"make"`
	Model          string    `json:"model"`
	Year           int       `json:"year"`
	PriceMinor     int64     `json:"priceMinor"`
	Currency       string    `json:"currency"`
	Status         Status    `json:"status"`
	SoldPriceMinor int64     `json:"soldPriceMinor,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Store persists listing data.
type Store interface {
	Create(ctx context.Context, listing *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	Update(ctx context.Context, listing *Listing) error
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error)
}

// CreateRequest contains the parameters for creating a listing.
type CreateRequest struct {
	SellerID   string `json:"sellerId" binding:"required"`
	Title      string `json:"title" binding:"required"`
	Make       string `json:"make" binding:"required"`
	Model      string `json:"model" binding:"required"`
	Year       int    `json:"year" binding:"required"`
	PriceMinor int64  `json:"priceMinor" binding:"required"`
	Currency   string `json:"currency"`
}

// Service implements listing business logic.
type Service struct {
	store Store
}

// NewService creates a new listings service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create adds a new listing in the available state.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Listing, error) {
	if req.PriceMinor <= 0 {
		return nil, ErrInvalidPrice
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "usd"
	}

	now := time.Now()
	listing := &Listing{
		ID:         idgen.WithPrefix("lst_"),
		SellerID:   req.SellerID,
		Title:      strings.TrimSpace(req.Title),
		Make:       strings.TrimSpace(req.Make),
		Model:      strings.TrimSpace(req.Model),
		Year:       req.Year,
		PriceMinor: req.PriceMinor,
		Currency:   currency,
		Status:     StatusAvailable,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Create(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}
	return listing, nil
}

// Get returns a listing by ID.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// ListBySeller returns listings owned by a seller.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}

// Withdraw removes an available listing from the marketplace.
func (s *Service) Withdraw(ctx context.Context, id, callerID string) (*Listing, error) {
	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.SellerID != callerID {
		return nil, ErrUnauthorized
	}
	if listing.Status != StatusAvailable {
		return nil, ErrNotSellable
	}

	listing.Status = StatusWithdrawn
	listing.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, listing); err != nil {
		return nil, err
	}
	return listing, nil
}

// Reserve marks an available listing as pending sale. The escrow manager
// calls this when a buyer opens an escrow against the listing.
func (s *Service) Reserve(ctx context.Context, id, sellerID string) (*Listing, error) {
	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.SellerID != sellerID {
		return nil, ErrUnauthorized
	}
	if listing.Status != StatusAvailable {
		return nil, ErrNotSellable
	}

	listing.Status = StatusPendingSale
	listing.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, listing); err != nil {
		return nil, err
	}
	return listing, nil
}

// MarkSold records a settled sale at the given price.
func (s *Service) MarkSold(ctx context.Context, id string, soldPriceMinor int64) error {
	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if listing.Status == StatusSold {
		return nil
	}

	listing.Status = StatusSold
	listing.SoldPriceMinor = soldPriceMinor
	listing.UpdatedAt = time.Now()
	return s.store.Update(ctx, listing)
}

// ReleaseReservation returns a pending listing to the available state
// after its escrow fell through.
func (s *Service) ReleaseReservation(ctx context.Context, id string) error {
	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if listing.Status != StatusPendingSale {
		return nil
	}

	listing.Status = StatusAvailable
	listing.UpdatedAt = time.Now()
	return s.store.Update(ctx, listing)
}
