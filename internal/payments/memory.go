package payments

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lotline/lotline/internal/idgen"
)

// MemoryGateway is a development-mode gateway. Every call succeeds and
// returns a fabricated reference. Calls are idempotent by key, matching
// the behavior of the real gateway.
type MemoryGateway struct {
	mu     sync.Mutex
	byKey  map[string]string
	logger *slog.Logger
}

// NewMemoryGateway creates an in-process gateway for demo mode.
func NewMemoryGateway(logger *slog.Logger) *MemoryGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryGateway{
		byKey:  make(map[string]string),
		logger: logger,
	}
}

var _ Gateway = (*MemoryGateway)(nil)

func (g *MemoryGateway) Charge(ctx context.Context, amountMinor int64, currency, paymentMethod, idempotencyKey string) (string, error) {
	return g.record("charge", "pi_", amountMinor, idempotencyKey)
}

func (g *MemoryGateway) Transfer(ctx context.Context, amountMinor int64, currency, destination, idempotencyKey string) (string, error) {
	return g.record("transfer", "tr_", amountMinor, idempotencyKey)
}

func (g *MemoryGateway) Refund(ctx context.Context, paymentRef string, amountMinor int64, idempotencyKey string) (string, error) {
	return g.record("refund", "re_", amountMinor, idempotencyKey)
}

func (g *MemoryGateway) record(op, prefix string, amountMinor int64, key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ref, ok := g.byKey[key]; ok {
		return ref, nil
	}
	ref := idgen.WithPrefix(prefix)
	g.byKey[key] = ref
	g.logger.Info("demo gateway movement", "op", op, "amountMinor", amountMinor, "ref", ref)
	return ref, nil
}
