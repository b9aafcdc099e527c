package listings

import (
	"context"
	"errors"
	"testing"
)

func newTestService() *Service {
	return NewService(NewMemoryStore())
}

func createTestListing(t *testing.T, s *Service) *Listing {
	t.Helper()
	listing, err := s.Create(context.Background(), CreateRequest{
		SellerID:   "seller-1",
		Title:      "2019 Honda Civic EX",
		Make:       "Honda",
		Model:      "Civic",
		Year:       2019,
		PriceMinor: 1_850_000,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return listing
}

func TestCreateListing(t *testing.T) {
	s := newTestService()
	listing := createTestListing(t, s)

	if listing.Status != StatusAvailable {
		t.Errorf("status = %s, want %s", listing.Status, StatusAvailable)
	}
	if listing.Currency != "usd" {
		t.Errorf("currency = %s, want usd by default", listing.Currency)
	}
	if listing.ID == "" {
		t.Error("expected generated ID")
	}
}

func TestCreateListingRejectsBadPrice(t *testing.T) {
	s := newTestService()
	_, err := s.Create(context.Background(), CreateRequest{
		SellerID:   "seller-1",
		Title:      "Free car",
		Make:       "Ford",
		Model:      "Focus",
		Year:       2015,
		PriceMinor: 0,
	})
	if !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestReserveAndMarkSold(t *testing.T) {
	s := newTestService()
	listing := createTestListing(t, s)
	ctx := context.Background()

	if _, err := s.Reserve(ctx, listing.ID, "seller-1"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	// A reserved listing cannot be reserved again.
	if _, err := s.Reserve(ctx, listing.ID, "seller-1"); !errors.Is(err, ErrNotSellable) {
		t.Errorf("expected ErrNotSellable on double reserve, got %v", err)
	}

	if err := s.MarkSold(ctx, listing.ID, 1_800_000); err != nil {
		t.Fatalf("MarkSold failed: %v", err)
	}

	got, err := s.Get(ctx, listing.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusSold {
		t.Errorf("status = %s, want %s", got.Status, StatusSold)
	}
	if got.SoldPriceMinor != 1_800_000 {
		t.Errorf("soldPriceMinor = %d, want 1800000", got.SoldPriceMinor)
	}

	// MarkSold is idempotent.
	if err := s.MarkSold(ctx, listing.ID, 999); err != nil {
		t.Fatalf("second MarkSold failed: %v", err)
	}
	got, _ = s.Get(ctx, listing.ID)
	if got.SoldPriceMinor != 1_800_000 {
		t.Errorf("second MarkSold changed sold price to %d", got.SoldPriceMinor)
	}
}

func TestReserveWrongSeller(t *testing.T) {
	s := newTestService()
	listing := createTestListing(t, s)

	if _, err := s.Reserve(context.Background(), listing.ID, "someone-else"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestReleaseReservation(t *testing.T) {
	s := newTestService()
	listing := createTestListing(t, s)
	ctx := context.Background()

	if _, err := s.Reserve(ctx, listing.ID, "seller-1"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := s.ReleaseReservation(ctx, listing.ID); err != nil {
		t.Fatalf("ReleaseReservation failed: %v", err)
	}

	got, _ := s.Get(ctx, listing.ID)
	if got.Status != StatusAvailable {
		t.Errorf("status = %s, want %s", got.Status, StatusAvailable)
	}

	// Releasing a non-reserved listing is a no-op.
	if err := s.ReleaseReservation(ctx, listing.ID); err != nil {
		t.Errorf("release of available listing should be a no-op, got %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	s := newTestService()
	listing := createTestListing(t, s)
	ctx := context.Background()

	if _, err := s.Withdraw(ctx, listing.ID, "someone-else"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	withdrawn, err := s.Withdraw(ctx, listing.ID, "seller-1")
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if withdrawn.Status != StatusWithdrawn {
		t.Errorf("status = %s, want %s", withdrawn.Status, StatusWithdrawn)
	}

	// A withdrawn listing cannot be reserved.
	if _, err := s.Reserve(ctx, listing.ID, "seller-1"); !errors.Is(err, ErrNotSellable) {
		t.Errorf("expected ErrNotSellable after withdraw, got %v", err)
	}
}

func TestListBySeller(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	createTestListing(t, s)
	createTestListing(t, s)

	result, err := s.ListBySeller(ctx, "seller-1", 0)
	if err != nil {
		t.Fatalf("ListBySeller failed: %v", err)
	}
	if len(result) != 2 {
		t.Errorf("got %d listings, want 2", len(result))
	}

	result, _ = s.ListBySeller(ctx, "nobody", 10)
	if len(result) != 0 {
		t.Errorf("got %d listings for unknown seller, want 0", len(result))
	}
}
