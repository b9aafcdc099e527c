// Package escrow holds a buyer's funds for a vehicle purchase and releases
// them to the seller only under well-defined conditions.
//
// Flow:
//  1. Buyer creates an escrow against a listing → status initiated
//  2. Buyer funds it (charge of amount + fee) → status funded
//  3. Buyer releases, or seller releases with the shared code,
//     or the sweeper releases after the inspection deadline → completed
//  4. Either party disputes before release → disputed_pending, an
//     arbitrator resolves it (full release, full refund, or a split)
//  5. Never funded before the funding deadline → expired
//
// Records are updated with optimistic versioning: every write is a
// compare-and-set on the record version, so concurrent actors (buyer,
// seller, sweeper, arbitrator) cannot both commit a transition. Gateway
// calls happen between the read and the conditional write and are
// idempotent by key, so a lost race never moves funds twice.
package escrow

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEscrowNotFound         = errors.New("escrow not found")
	ErrInvalidStatus          = errors.New("invalid escrow status for this operation")
	ErrUnauthorized           = errors.New("not authorized for this escrow operation")
	ErrInvalidReleaseCode     = errors.New("release code does not match")
	ErrAmountBelowMinimum     = errors.New("amount is below the minimum escrow amount")
	ErrInvalidResolution      = errors.New("invalid dispute resolution")
	ErrFundingExpired         = errors.New("funding deadline has passed")
	ErrConflict               = errors.New("escrow was modified concurrently")
	ErrDisputed               = errors.New("escrow is disputed and can only be resolved by an arbitrator")
	ErrReconciliationRequired = errors.New("settlement incomplete, reconciliation required")
)

// Status represents the state of an escrow transaction.
type Status string

const (
	StatusInitiated Status = "initiated"        // Created, no funds collected
	StatusFunded    Status = "funded"           // Buyer's charge succeeded, funds held
	StatusDisputed  Status = "disputed_pending" // Dispute open, waiting for an arbitrator
	StatusCompleted Status = "completed"        // Funds settled per the outcome
	StatusExpired   Status = "expired"          // Never funded before the deadline
)

// Outcome records how a completed escrow settled.
type Outcome string

const (
	OutcomeReleasedToSeller Outcome = "released_to_seller"
	OutcomeRefundedToBuyer  Outcome = "refunded_to_buyer"
	OutcomePartialRefund    Outcome = "partial_refund"
)

// SystemCaller identifies the deadline sweeper. It is the only caller
// allowed to release without being the buyer or presenting the code.
const SystemCaller = "system:sweeper"

// Record is the persisted escrow transaction.
//
// PaymentRef, TransferRef, and RefundRef are set only after the
// corresponding gateway call has been confirmed. Their presence is the
// durable proof that the fund movement happened, which is what makes
// retried operations safe.
type Record struct {
	ID        string `json:"id"`
	ListingID string `json:"listingId"`
	BuyerID   string `json:"buyerId"`
	SellerID  string `json:"sellerId"`

	AmountMinor int64  `json:"amountMinor"`
	FeeMinor    int64  `json:"feeMinor"`
	Currency    string `json:"currency"`

	FundingDeadline time.Time `json:"fundingDeadline"`
	ReleaseDeadline time.Time `json:"releaseDeadline"`

	Status          Status     `json:"status"`
	Outcome         Outcome    `json:"outcome,omitempty"`
	Disputed        bool       `json:"disputed"`
	DisputeReason   string     `json:"disputeReason,omitempty"`
	DisputeOpenedAt *time.Time `json:"disputeOpenedAt,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
	ArbitratorID    string     `json:"arbitratorId,omitempty"`

	// ReleaseCode is the shared secret a seller must present to release.
	// Never serialized to API responses.
	ReleaseCode string `json:"-"`

	PaymentRef  string `json:"paymentRef,omitempty"`
	TransferRef string `json:"transferRef,omitempty"`
	RefundRef   string `json:"refundRef,omitempty"`

	// RefundMinor is the buyer's leg of a partial split.
	RefundMinor int64 `json:"refundMinor,omitempty"`

	// Version guards every update: a write only succeeds if the stored
	// version still matches, then increments it.
	Version int64 `json:"version"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// IsTerminal returns true if the escrow is in a final state.
func (r *Record) IsTerminal() bool {
	switch r.Status {
	case StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// Resolution is the closed set of dispute outcomes an arbitrator can
// apply. Exactly three kinds exist; the type switch in Resolve is
// exhaustive over them.
type Resolution interface {
	isResolution()
}

// ReleaseToSeller transfers the full amount to the seller.
type ReleaseToSeller struct{}

// RefundToBuyer refunds amount plus fee to the buyer.
type RefundToBuyer struct{}

// PartialRefund refunds RefundMinor to the buyer and transfers the
// remainder to the seller. Requires 0 < RefundMinor < amount.
type PartialRefund struct {
	RefundMinor int64
}

func (ReleaseToSeller) isResolution() {}
func (RefundToBuyer) isResolution()   {}
func (PartialRefund) isResolution()   {}

// ParseResolution maps a wire-level resolution kind onto the closed set.
func ParseResolution(kind string, refundMinor int64) (Resolution, error) {
	switch kind {
	case "release_to_seller":
		return ReleaseToSeller{}, nil
	case "refund_to_buyer":
		return RefundToBuyer{}, nil
	case "partial_refund":
		return PartialRefund{RefundMinor: refundMinor}, nil
	default:
		return nil, ErrInvalidResolution
	}
}

// Store persists escrow records. Update is a compare-and-set: it must
// fail with ErrConflict if the stored version differs from the version
// the caller read.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, rec *Record) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Record, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Record, error)
	ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]*Record, error)
	ListFundingExpired(ctx context.Context, now time.Time, limit int) ([]*Record, error)
}

// ListingCatalog abstracts the listing subsystem so escrow doesn't
// import it directly.
type ListingCatalog interface {
	Reserve(ctx context.Context, listingID, sellerID string) error
	MarkSold(ctx context.Context, listingID string, soldPriceMinor int64) error
	ReleaseReservation(ctx context.Context, listingID string) error
}

// ArbitratorNotifier is told when a dispute needs human attention.
type ArbitratorNotifier interface {
	NotifyDisputeOpened(ctx context.Context, escrowID, reason string)
}

// EventSink receives escrow lifecycle events for realtime fan-out.
type EventSink interface {
	PublishEscrowEvent(evt Event)
}

// Event is a lifecycle notification emitted after a committed transition.
type Event struct {
	Type        string    `json:"type"`
	EscrowID    string    `json:"escrowId"`
	ListingID   string    `json:"listingId"`
	BuyerID     string    `json:"buyerId"`
	SellerID    string    `json:"sellerId"`
	AmountMinor int64     `json:"amountMinor"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// FeeFunc computes the platform fee from the transaction amount.
type FeeFunc func(amountMinor int64) int64

// FeeBasisPoints returns a FeeFunc charging the given basis points of
// the amount, rounding half up in minor units.
func FeeBasisPoints(bps int64) FeeFunc {
	return func(amountMinor int64) int64 {
		return (amountMinor*bps + 5000) / 10000
	}
}

// CreateRequest contains the parameters for creating an escrow.
type CreateRequest struct {
	ListingID   string `json:"listingId" binding:"required"`
	BuyerID     string `json:"buyerId" binding:"required"`
	SellerID    string `json:"sellerId" binding:"required"`
	AmountMinor int64  `json:"amountMinor" binding:"required"`
	Currency    string `json:"currency"`
}

// FundRequest contains the parameters for funding an escrow.
type FundRequest struct {
	PaymentMethod string `json:"paymentMethod" binding:"required"`
}

// ReleaseRequest contains the optional release code for seller-initiated
// release.
type ReleaseRequest struct {
	ReleaseCode string `json:"releaseCode"`
}

// DisputeRequest contains the parameters for opening a dispute.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveRequest contains the arbitrator's resolution.
type ResolveRequest struct {
	Resolution  string `json:"resolution" binding:"required"` // release_to_seller, refund_to_buyer, partial_refund
	RefundMinor int64  `json:"refundMinor"`
	Notes       string `json:"notes"`
}
