package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lotline/lotline/internal/metrics"
)

// Sweeper periodically releases funded escrows past their inspection
// deadline and expires initiated ones past their funding deadline.
//
// Tick is the whole of the sweep logic and is callable directly by
// tests; Start only decides when Tick runs.
type Sweeper struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewSweeper creates a new deadline sweeper.
func NewSweeper(service *Service, store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		service:  service,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeTick(ctx)
		}
	}
}

// Stop signals the sweeper to stop. Safe to call more than once, and
// the signal is not lost if the loop is mid-tick.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Sweeper) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in escrow sweeper", "panic", fmt.Sprint(r))
		}
	}()
	s.Tick(ctx, time.Now())
}

// Tick runs one sweep at the given instant. A record whose deadline is
// exactly at now is due. One record's failure never blocks the rest.
func (s *Sweeper) Tick(ctx context.Context, now time.Time) {
	metrics.SweepRunsTotal.Inc()

	due, err := s.store.ListDueForRelease(ctx, now, 100)
	if err != nil {
		s.logger.Warn("failed to list escrows due for release", "error", err)
	} else {
		for _, rec := range due {
			if _, err := s.service.Release(ctx, rec.ID, SystemCaller, ""); err != nil {
				s.logger.Warn("failed to auto-release escrow",
					"escrow_id", rec.ID,
					"error", err,
				)
				continue
			}
			metrics.SweepReleasesTotal.Inc()
			s.logger.Info("auto-released escrow",
				"escrow_id", rec.ID,
				"seller", rec.SellerID,
				"amount_minor", rec.AmountMinor,
			)
		}
	}

	unfunded, err := s.store.ListFundingExpired(ctx, now, 100)
	if err != nil {
		s.logger.Warn("failed to list funding-expired escrows", "error", err)
		return
	}
	for _, rec := range unfunded {
		if _, err := s.service.ExpireUnfunded(ctx, rec.ID); err != nil {
			s.logger.Warn("failed to expire unfunded escrow",
				"escrow_id", rec.ID, "error", err)
			continue
		}
		metrics.SweepExpiriesTotal.Inc()
		s.logger.Info("expired unfunded escrow", "escrow_id", rec.ID)
	}
}
