// Package payments abstracts the external payment gateway used to move
// escrowed funds. All operations are idempotent given a caller-supplied
// idempotency key: repeating a call with the same key returns the original
// result instead of moving funds twice.
package payments

import (
	"context"
	"errors"
	"fmt"
)

// Gateway is the external payment capability consumed by the escrow manager.
// Implementations must honor the idempotency key on every operation.
type Gateway interface {
	// Charge collects amountMinor from the given payment method and returns
	// a payment reference.
	Charge(ctx context.Context, amountMinor int64, currency, paymentMethod, idempotencyKey string) (string, error)

	// Transfer pays amountMinor out to the given destination account and
	// returns a transfer reference.
	Transfer(ctx context.Context, amountMinor int64, currency, destination, idempotencyKey string) (string, error)

	// Refund returns amountMinor of a prior charge to its payer and returns
	// a refund reference.
	Refund(ctx context.Context, paymentRef string, amountMinor int64, idempotencyKey string) (string, error)
}

// GatewayError is a classified failure from the payment gateway.
// Retryable errors (network, timeout, rate limit) leave the caller free to
// reattempt with the same idempotency key. Hard errors (declined,
// insufficient funds) require a new operation.
type GatewayError struct {
	Op        string // "charge", "transfer", "refund"
	Code      string // gateway-specific error code
	Message   string
	Retryable bool
}

func (e *GatewayError) Error() string {
	kind := "hard"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("gateway %s failed (%s, %s): %s", e.Op, e.Code, kind, e.Message)
}

// IsRetryable reports whether err is a transient gateway failure that is
// safe to reattempt with the same idempotency key.
func IsRetryable(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return false
}
