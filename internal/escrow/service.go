package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lotline/lotline/internal/idgen"
	"github.com/lotline/lotline/internal/metrics"
	"github.com/lotline/lotline/internal/payments"
	"github.com/lotline/lotline/internal/retry"
	"github.com/lotline/lotline/internal/traces"
)

// Defaults applied when the service is built without overrides.
const (
	DefaultMinAmountMinor   = 50_000 // $500.00
	DefaultFeeBPS           = 250    // 2.5%
	DefaultFundingWindow    = 48 * time.Hour
	DefaultInspectionWindow = 72 * time.Hour
)

// Service implements the escrow transaction manager. All state
// transitions go through it.
type Service struct {
	store    Store
	logs     LogStore
	gateway  payments.Gateway
	catalog  ListingCatalog
	fee      FeeFunc
	notifier ArbitratorNotifier
	events   EventSink
	logger   *slog.Logger

	minAmountMinor   int64
	fundingWindow    time.Duration
	inspectionWindow time.Duration

	// Injectable for deterministic tests.
	now     func() time.Time
	newID   func() string
	newCode func() string
}

// NewService creates a new escrow service with default fee, windows,
// and generators.
func NewService(store Store, logs LogStore, gateway payments.Gateway, catalog ListingCatalog) *Service {
	return &Service{
		store:            store,
		logs:             logs,
		gateway:          gateway,
		catalog:          catalog,
		fee:              FeeBasisPoints(DefaultFeeBPS),
		logger:           slog.Default(),
		minAmountMinor:   DefaultMinAmountMinor,
		fundingWindow:    DefaultFundingWindow,
		inspectionWindow: DefaultInspectionWindow,
		now:              time.Now,
		newID:            func() string { return idgen.WithPrefix("esc_") },
		newCode:          func() string { return idgen.Hex(16) },
	}
}

// WithFee overrides the fee function.
func (s *Service) WithFee(fee FeeFunc) *Service {
	s.fee = fee
	return s
}

// WithMinAmount overrides the minimum escrow amount in minor units.
func (s *Service) WithMinAmount(minMinor int64) *Service {
	s.minAmountMinor = minMinor
	return s
}

// WithWindows overrides the funding and inspection windows.
func (s *Service) WithWindows(funding, inspection time.Duration) *Service {
	s.fundingWindow = funding
	s.inspectionWindow = inspection
	return s
}

// WithNotifier adds an arbitrator notifier for opened disputes.
func (s *Service) WithNotifier(n ArbitratorNotifier) *Service {
	s.notifier = n
	return s
}

// WithEvents adds a sink for realtime escrow events.
func (s *Service) WithEvents(sink EventSink) *Service {
	s.events = sink
	return s
}

// WithLogger sets the structured logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithGenerators overrides ID and release-code generation for tests.
func (s *Service) WithGenerators(newID, newCode func() string) *Service {
	s.newID = newID
	s.newCode = newCode
	return s
}

// Create opens a new escrow in the initiated state. No funds move.
// The listing is reserved so no second escrow can be opened against it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Record, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create",
		traces.ListingID(req.ListingID), traces.AmountMinor(req.AmountMinor))
	defer span.End()

	if req.AmountMinor < s.minAmountMinor {
		return nil, fmt.Errorf("%w: got %d, minimum %d", ErrAmountBelowMinimum, req.AmountMinor, s.minAmountMinor)
	}
	if req.BuyerID == req.SellerID {
		return nil, fmt.Errorf("%w: buyer and seller cannot be the same user", ErrUnauthorized)
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "usd"
	}

	if err := s.catalog.Reserve(ctx, req.ListingID, req.SellerID); err != nil {
		return nil, fmt.Errorf("listing not sellable: %w", err)
	}

	now := s.now()
	rec := &Record{
		ID:              s.newID(),
		ListingID:       req.ListingID,
		BuyerID:         req.BuyerID,
		SellerID:        req.SellerID,
		AmountMinor:     req.AmountMinor,
		FeeMinor:        s.fee(req.AmountMinor),
		Currency:        currency,
		FundingDeadline: now.Add(s.fundingWindow),
		ReleaseDeadline: now.Add(s.inspectionWindow),
		Status:          StatusInitiated,
		ReleaseCode:     s.newCode(),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		// Free the listing again, the escrow never existed.
		_ = s.catalog.ReleaseReservation(ctx, req.ListingID)
		return nil, fmt.Errorf("failed to create escrow record: %w", err)
	}

	s.logTransition(ctx, rec, ActionCreated, req.BuyerID,
		fmt.Sprintf("escrow created for listing %s, amount %d %s, fee %d", rec.ListingID, rec.AmountMinor, rec.Currency, rec.FeeMinor))
	return rec, nil
}

// Fund charges the buyer amount plus fee and moves the escrow to funded.
// A gateway failure leaves the record at initiated so the buyer can retry.
func (s *Service) Fund(ctx context.Context, id, callerID, paymentMethod string) (*Record, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Fund",
		traces.EscrowID(id), traces.UserID(callerID))
	defer span.End()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != rec.BuyerID {
		return nil, ErrUnauthorized
	}
	if rec.Status == StatusFunded && rec.PaymentRef != "" {
		// Already funded, a retry of a successful attempt.
		return rec, nil
	}
	if rec.Status != StatusInitiated {
		return nil, ErrInvalidStatus
	}
	if !s.now().Before(rec.FundingDeadline) {
		return nil, ErrFundingExpired
	}

	paymentRef := rec.PaymentRef
	if paymentRef == "" {
		paymentRef, err = s.gateway.Charge(ctx, rec.AmountMinor+rec.FeeMinor, rec.Currency, paymentMethod, "fund_"+rec.ID)
		if err != nil {
			return nil, fmt.Errorf("charge failed: %w", err)
		}
	}

	rec.PaymentRef = paymentRef
	rec.Status = StatusFunded
	rec.UpdatedAt = s.now()

	if err := s.store.Update(ctx, rec); err != nil {
		if errors.Is(err, ErrConflict) {
			return s.reconcileFundConflict(ctx, rec.ID, paymentRef)
		}
		return nil, err
	}

	s.logTransition(ctx, rec, ActionFunded, callerID,
		fmt.Sprintf("buyer charged %d %s (payment %s)", rec.AmountMinor+rec.FeeMinor, rec.Currency, paymentRef))
	return rec, nil
}

// reconcileFundConflict handles the race where the sweeper expired the
// record between our deadline check and our write, after the charge
// already succeeded. The charge is refunded so no funds stay collected
// against an expired escrow.
func (s *Service) reconcileFundConflict(ctx context.Context, id, paymentRef string) (*Record, error) {
	metrics.EscrowConflictsTotal.Inc()

	fresh, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if fresh.Status == StatusFunded && fresh.PaymentRef == paymentRef {
		// A concurrent retry with the same idempotency key won the write.
		return fresh, nil
	}
	if fresh.Status == StatusExpired {
		if _, refundErr := s.gateway.Refund(ctx, paymentRef, fresh.AmountMinor+fresh.FeeMinor, "fund_refund_"+id); refundErr != nil {
			s.logger.Error("CRITICAL: charge collected on expired escrow and refund failed, manual reconciliation needed",
				"escrow_id", id, "payment_ref", paymentRef, "error", refundErr)
			return nil, fmt.Errorf("%w: %v", ErrReconciliationRequired, refundErr)
		}
		return nil, ErrFundingExpired
	}
	return nil, ErrConflict
}

// Release transfers the held amount to the seller and completes the
// escrow. The platform keeps the fee.
//
// Authorization: the buyer may always release. The seller must present
// the release code the buyer shares once satisfied. The sweeper releases
// as SystemCaller once the inspection deadline has passed.
func (s *Service) Release(ctx context.Context, id, callerID, releaseCode string) (*Record, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Release",
		traces.EscrowID(id), traces.UserID(callerID))
	defer span.End()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if rec.Status == StatusCompleted && rec.TransferRef != "" {
		// A retry of an already-settled release.
		return rec, nil
	}
	if rec.Status == StatusDisputed || rec.Disputed {
		return nil, ErrDisputed
	}
	if rec.Status != StatusFunded {
		return nil, ErrInvalidStatus
	}

	switch callerID {
	case rec.BuyerID, SystemCaller:
		// No code required.
	case rec.SellerID:
		if releaseCode != rec.ReleaseCode {
			return nil, ErrInvalidReleaseCode
		}
	default:
		return nil, ErrUnauthorized
	}

	transferRef := rec.TransferRef
	if transferRef == "" {
		transferRef, err = s.gateway.Transfer(ctx, rec.AmountMinor, rec.Currency, rec.SellerID, "release_"+rec.ID)
		if err != nil {
			return nil, fmt.Errorf("transfer failed: %w", err)
		}
	}

	settled, err := s.settle(ctx, rec, false, func(r *Record) {
		r.TransferRef = transferRef
		r.Status = StatusCompleted
		r.Outcome = OutcomeReleasedToSeller
	})
	if err != nil {
		return nil, err
	}

	// One-way notification, not a two-phase commit.
	if err := s.catalog.MarkSold(ctx, settled.ListingID, settled.AmountMinor); err != nil {
		s.logger.Warn("failed to mark listing sold", "listing_id", settled.ListingID, "error", err)
	}

	s.logTransition(ctx, settled, ActionReleased, callerID,
		fmt.Sprintf("transferred %d %s to seller (transfer %s)", settled.AmountMinor, settled.Currency, transferRef))
	metrics.EscrowSettleDuration.Observe(settled.ResolvedAt.Sub(settled.CreatedAt).Seconds())
	return settled, nil
}

// OpenDispute freezes a funded escrow. While disputed, release and the
// sweeper are both rejected until an arbitrator resolves it.
func (s *Service) OpenDispute(ctx context.Context, id, callerID, reason string) (*Record, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.OpenDispute",
		traces.EscrowID(id), traces.UserID(callerID))
	defer span.End()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != rec.BuyerID && callerID != rec.SellerID {
		return nil, ErrUnauthorized
	}
	if rec.Disputed {
		return nil, fmt.Errorf("%w: dispute already open", ErrInvalidStatus)
	}
	if rec.Status != StatusFunded {
		return nil, ErrInvalidStatus
	}

	now := s.now()
	rec.Status = StatusDisputed
	rec.Disputed = true
	rec.DisputeReason = reason
	rec.DisputeOpenedAt = &now
	rec.UpdatedAt = now

	if err := s.store.Update(ctx, rec); err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.EscrowConflictsTotal.Inc()
		}
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.NotifyDisputeOpened(ctx, rec.ID, reason)
	}
	s.logTransition(ctx, rec, ActionDisputeOpened, callerID, "dispute opened: "+reason)
	return rec, nil
}

// Resolve settles a disputed escrow per the arbitrator's decision.
//
// The partial split moves funds in two legs with the refund first. Each
// confirmed leg is persisted before the next one runs, so a retry after
// a failed transfer leg skips the refund instead of repeating it. If the
// transfer leg fails the record stays disputed_pending and the caller
// sees ErrReconciliationRequired, never a completed record with one leg
// settled.
func (s *Service) Resolve(ctx context.Context, id, arbitratorID string, resolution Resolution, notes string) (*Record, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Resolve",
		traces.EscrowID(id), traces.UserID(arbitratorID))
	defer span.End()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusCompleted && rec.Outcome != "" {
		return rec, nil
	}
	if rec.Status != StatusDisputed {
		return nil, ErrInvalidStatus
	}

	// A settled leg pins the resolution. Money that already moved can
	// only be completed the way it moved, never recut into a different
	// outcome, or the totals stop adding up.
	if rec.TransferRef != "" {
		if _, ok := resolution.(ReleaseToSeller); !ok {
			return nil, fmt.Errorf("%w: a transfer of %d is already settled", ErrInvalidResolution, rec.AmountMinor)
		}
	} else if rec.RefundRef != "" {
		pr, ok := resolution.(PartialRefund)
		if !ok || pr.RefundMinor != rec.RefundMinor {
			return nil, fmt.Errorf("%w: a partial refund of %d is already settled", ErrInvalidResolution, rec.RefundMinor)
		}
	}

	var settled *Record
	switch res := resolution.(type) {
	case ReleaseToSeller:
		settled, err = s.resolveRelease(ctx, rec, arbitratorID, notes)
	case RefundToBuyer:
		settled, err = s.resolveRefund(ctx, rec, arbitratorID, notes)
	case PartialRefund:
		settled, err = s.resolvePartial(ctx, rec, arbitratorID, notes, res.RefundMinor)
	default:
		return nil, ErrInvalidResolution
	}
	if err != nil {
		return nil, err
	}

	s.logTransition(ctx, settled, ActionDisputeResolved, arbitratorID,
		fmt.Sprintf("dispute resolved as %s: %s", settled.Outcome, notes))
	metrics.EscrowSettleDuration.Observe(settled.ResolvedAt.Sub(settled.CreatedAt).Seconds())
	return settled, nil
}

func (s *Service) resolveRelease(ctx context.Context, rec *Record, arbitratorID, notes string) (*Record, error) {
	transferRef := rec.TransferRef
	if transferRef == "" {
		var err error
		// Same idempotency key as a normal release, so a dispute resolution
		// racing a stale release retry cannot move the amount twice.
		transferRef, err = s.gateway.Transfer(ctx, rec.AmountMinor, rec.Currency, rec.SellerID, "release_"+rec.ID)
		if err != nil {
			return nil, fmt.Errorf("transfer failed: %w", err)
		}
	}

	settled, err := s.settle(ctx, rec, true, func(r *Record) {
		r.TransferRef = transferRef
		r.Status = StatusCompleted
		r.Outcome = OutcomeReleasedToSeller
		r.ArbitratorID = arbitratorID
		r.ResolutionNotes = notes
	})
	if err != nil {
		return nil, err
	}
	if err := s.catalog.MarkSold(ctx, settled.ListingID, settled.AmountMinor); err != nil {
		s.logger.Warn("failed to mark listing sold", "listing_id", settled.ListingID, "error", err)
	}
	return settled, nil
}

func (s *Service) resolveRefund(ctx context.Context, rec *Record, arbitratorID, notes string) (*Record, error) {
	refundRef := rec.RefundRef
	if refundRef == "" {
		var err error
		// The platform forgoes its fee on a full refund.
		refundRef, err = s.gateway.Refund(ctx, rec.PaymentRef, rec.AmountMinor+rec.FeeMinor, "resolve_refund_"+rec.ID)
		if err != nil {
			return nil, fmt.Errorf("refund failed: %w", err)
		}
	}

	settled, err := s.settle(ctx, rec, true, func(r *Record) {
		r.RefundRef = refundRef
		r.RefundMinor = r.AmountMinor + r.FeeMinor
		r.Status = StatusCompleted
		r.Outcome = OutcomeRefundedToBuyer
		r.ArbitratorID = arbitratorID
		r.ResolutionNotes = notes
	})
	if err != nil {
		return nil, err
	}
	if err := s.catalog.ReleaseReservation(ctx, settled.ListingID); err != nil {
		s.logger.Warn("failed to release listing reservation", "listing_id", settled.ListingID, "error", err)
	}
	return settled, nil
}

func (s *Service) resolvePartial(ctx context.Context, rec *Record, arbitratorID, notes string, refundMinor int64) (*Record, error) {
	if refundMinor <= 0 || refundMinor >= rec.AmountMinor {
		return nil, fmt.Errorf("%w: partial refund must be between 0 and %d exclusive", ErrInvalidResolution, rec.AmountMinor)
	}
	if rec.RefundRef != "" && rec.RefundMinor != refundMinor {
		return nil, fmt.Errorf("%w: a partial refund of %d is already settled", ErrInvalidResolution, rec.RefundMinor)
	}

	// Refund leg first. Once confirmed it is persisted immediately so a
	// retry after a transfer failure never refunds twice.
	if rec.RefundRef == "" {
		refundRef, err := s.gateway.Refund(ctx, rec.PaymentRef, refundMinor, "resolve_refund_"+rec.ID)
		if err != nil {
			return nil, fmt.Errorf("refund leg failed: %w", err)
		}
		rec, err = s.persistMovement(ctx, rec, true, func(r *Record) {
			r.RefundRef = refundRef
			r.RefundMinor = refundMinor
		})
		if err != nil {
			return nil, err
		}
	}

	sellerMinor := rec.AmountMinor - rec.RefundMinor
	transferRef := rec.TransferRef
	if transferRef == "" {
		// The transfer leg is retried in place because failing here strands
		// the record in a refund-settled, transfer-pending state.
		err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
			ref, terr := s.gateway.Transfer(ctx, sellerMinor, rec.Currency, rec.SellerID, "resolve_transfer_"+rec.ID)
			if terr != nil {
				if !payments.IsRetryable(terr) {
					return retry.Permanent(terr)
				}
				return terr
			}
			transferRef = ref
			return nil
		})
		if err != nil {
			// The refund leg is settled and durable, the transfer leg is
			// not. The record stays disputed_pending for a retry.
			return nil, fmt.Errorf("%w: refund of %d settled, transfer of %d failed: %v",
				ErrReconciliationRequired, rec.RefundMinor, sellerMinor, err)
		}
	}

	settled, err := s.settle(ctx, rec, true, func(r *Record) {
		r.TransferRef = transferRef
		r.Status = StatusCompleted
		r.Outcome = OutcomePartialRefund
		r.ArbitratorID = arbitratorID
		r.ResolutionNotes = notes
	})
	if err != nil {
		return nil, err
	}
	if err := s.catalog.MarkSold(ctx, settled.ListingID, sellerMinor); err != nil {
		s.logger.Warn("failed to mark listing sold", "listing_id", settled.ListingID, "error", err)
	}
	return settled, nil
}

// ExpireUnfunded moves an initiated record whose funding deadline has
// passed to expired. Nothing was ever collected, so no gateway call.
func (s *Service) ExpireUnfunded(ctx context.Context, id string) (*Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusExpired {
		return rec, nil
	}
	if rec.Status != StatusInitiated {
		return nil, ErrInvalidStatus
	}
	if s.now().Before(rec.FundingDeadline) {
		return nil, ErrInvalidStatus
	}

	rec.Status = StatusExpired
	rec.UpdatedAt = s.now()
	if err := s.store.Update(ctx, rec); err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.EscrowConflictsTotal.Inc()
		}
		return nil, err
	}

	if err := s.catalog.ReleaseReservation(ctx, rec.ListingID); err != nil {
		s.logger.Warn("failed to release listing reservation", "listing_id", rec.ListingID, "error", err)
	}
	s.logTransition(ctx, rec, ActionExpired, SystemCaller, "funding deadline passed, never funded")
	return rec, nil
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns escrows where the user is buyer or seller.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// Log returns the audit trail for an escrow.
func (s *Service) Log(ctx context.Context, escrowID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.logs.ListByEscrow(ctx, escrowID, limit)
}

// settle commits a terminal transition after a confirmed gateway call.
// Funds have already moved, so the write must land: on a version
// conflict the record is re-read and the mutation reapplied, unless a
// racer with the same idempotency key already committed it. resolving
// marks an arbitrator resolution, the only transition allowed to
// complete a disputed record.
func (s *Service) settle(ctx context.Context, rec *Record, resolving bool, apply func(*Record)) (*Record, error) {
	now := s.now()
	settled, err := s.persistMovement(ctx, rec, resolving, func(r *Record) {
		apply(r)
		r.ResolvedAt = &now
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// persistMovement writes a record mutation that reflects a confirmed
// fund movement. Bounded retries across version conflicts; giving up is
// logged as critical because the gateway state and the record disagree.
func (s *Service) persistMovement(ctx context.Context, rec *Record, resolving bool, apply func(*Record)) (*Record, error) {
	apply(rec)
	rec.UpdatedAt = s.now()

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.store.Update(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrConflict) {
			break
		}
		metrics.EscrowConflictsTotal.Inc()

		fresh, getErr := s.store.Get(ctx, rec.ID)
		if getErr != nil {
			return nil, getErr
		}
		if fresh.IsTerminal() {
			// A concurrent caller settled it with the same idempotency
			// keys. Their commit is as good as ours.
			return fresh, nil
		}
		if fresh.Disputed && !resolving {
			return s.parkDisputedMovement(ctx, fresh, rec)
		}
		apply(fresh)
		fresh.UpdatedAt = s.now()
		rec = fresh
	}

	s.logger.Error("CRITICAL: funds moved but escrow state update failed, manual reconciliation needed",
		"escrow_id", rec.ID, "error", err)
	return nil, fmt.Errorf("failed to persist escrow state after fund movement: %w", err)
}

// parkDisputedMovement handles the race where a dispute was opened
// between the gateway call and the record write. The dispute owns the
// outcome, so the status never advances here; only the gateway refs are
// recorded on the disputed record so the resolution knows which legs
// already settled (and, via the shared idempotency keys, moves nothing
// twice).
func (s *Service) parkDisputedMovement(ctx context.Context, fresh, moved *Record) (*Record, error) {
	if fresh.TransferRef == "" {
		fresh.TransferRef = moved.TransferRef
	}
	if fresh.RefundRef == "" {
		fresh.RefundRef = moved.RefundRef
		fresh.RefundMinor = moved.RefundMinor
	}
	fresh.UpdatedAt = s.now()

	if err := s.store.Update(ctx, fresh); err != nil {
		s.logger.Error("CRITICAL: funds moved on a disputed escrow and ref write failed, manual reconciliation needed",
			"escrow_id", fresh.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrReconciliationRequired, err)
	}

	s.logger.Warn("movement settled while a dispute was opened, awaiting arbitrator resolution",
		"escrow_id", fresh.ID,
		"transfer_ref", fresh.TransferRef,
		"refund_ref", fresh.RefundRef,
	)
	return nil, fmt.Errorf("%w: movement settled while a dispute was opened", ErrReconciliationRequired)
}

// logTransition appends the audit entry and fans out the event. Both are
// best effort; the transition itself has already committed.
func (s *Service) logTransition(ctx context.Context, rec *Record, action, performedBy, description string) {
	metrics.EscrowTransitionsTotal.WithLabelValues(action).Inc()

	entry := &LogEntry{
		ID:          idgen.WithPrefix("log_"),
		EscrowID:    rec.ID,
		Action:      action,
		Description: description,
		PerformedBy: performedBy,
		CreatedAt:   s.now(),
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to append escrow log", "escrow_id", rec.ID, "action", action, "error", err)
	}

	if s.events != nil {
		s.events.PublishEscrowEvent(Event{
			Type:        action,
			EscrowID:    rec.ID,
			ListingID:   rec.ListingID,
			BuyerID:     rec.BuyerID,
			SellerID:    rec.SellerID,
			AmountMinor: rec.AmountMinor,
			Status:      rec.Status,
			Timestamp:   s.now(),
		})
	}
}
