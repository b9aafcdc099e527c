package payments

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/lotline/lotline/internal/circuitbreaker"
	"github.com/lotline/lotline/internal/metrics"
	"github.com/lotline/lotline/internal/traces"
)

const breakerKey = "stripe"

// StripeGateway implements Gateway on top of the Stripe API. Charges are
// confirmed PaymentIntents, payouts are Transfers to connected accounts,
// and refunds target the original PaymentIntent.
type StripeGateway struct {
	sc      *client.API
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewStripeGateway builds a gateway backed by the Stripe API using the
// given secret key.
func NewStripeGateway(apiKey string, logger *slog.Logger) *StripeGateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeGateway{
		sc:      sc,
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

func (g *StripeGateway) Charge(ctx context.Context, amountMinor int64, currency, paymentMethod, idempotencyKey string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountMinor),
		Currency:      stripe.String(currency),
		PaymentMethod: stripe.String(paymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	ref, err := g.call(ctx, "charge", func() (string, error) {
		pi, err := g.sc.PaymentIntents.New(params)
		if err != nil {
			return "", err
		}
		if pi.Status != stripe.PaymentIntentStatusSucceeded {
			return "", &GatewayError{
				Op:      "charge",
				Code:    string(pi.Status),
				Message: "payment intent did not succeed",
			}
		}
		return pi.ID, nil
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, amountMinor int64, currency, destination, idempotencyKey string) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amountMinor),
		Currency:    stripe.String(currency),
		Destination: stripe.String(destination),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	return g.call(ctx, "transfer", func() (string, error) {
		tr, err := g.sc.Transfers.New(params)
		if err != nil {
			return "", err
		}
		return tr.ID, nil
	})
}

func (g *StripeGateway) Refund(ctx context.Context, paymentRef string, amountMinor int64, idempotencyKey string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentRef),
		Amount:        stripe.Int64(amountMinor),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	return g.call(ctx, "refund", func() (string, error) {
		r, err := g.sc.Refunds.New(params)
		if err != nil {
			return "", err
		}
		return r.ID, nil
	})
}

// call runs one gateway operation through the circuit breaker and records
// metrics. A tripped breaker surfaces as a retryable error so callers can
// reattempt once Stripe recovers.
func (g *StripeGateway) call(ctx context.Context, op string, fn func() (string, error)) (string, error) {
	_, span := traces.StartSpan(ctx, "payments.stripe."+op, traces.GatewayOp(op))
	defer span.End()

	if !g.breaker.Allow(breakerKey) {
		metrics.GatewayCallsTotal.WithLabelValues(op, "breaker_open").Inc()
		return "", &GatewayError{
			Op:        op,
			Code:      "circuit_open",
			Message:   "payment gateway circuit breaker is open",
			Retryable: true,
		}
	}

	start := time.Now()
	ref, err := fn()
	metrics.GatewayCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		classified := classifyStripeError(op, err)
		if classified.Retryable {
			g.breaker.RecordFailure(breakerKey)
		} else {
			// Declines are the gateway working correctly, not an outage.
			g.breaker.RecordSuccess(breakerKey)
		}
		metrics.GatewayCallsTotal.WithLabelValues(op, "error").Inc()
		g.logger.Warn("stripe call failed",
			"operation", op,
			"code", classified.Code,
			"retryable", classified.Retryable)
		return "", classified
	}

	g.breaker.RecordSuccess(breakerKey)
	metrics.GatewayCallsTotal.WithLabelValues(op, "ok").Inc()
	return ref, nil
}

// classifyStripeError maps a Stripe failure onto a GatewayError. Card
// declines and invalid requests are hard failures. Stripe-side errors,
// rate limits, and network problems are retryable.
func classifyStripeError(op string, err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}

	var se *stripe.Error
	if errors.As(err, &se) {
		retryable := false
		switch se.Type {
		case stripe.ErrorTypeAPI:
			retryable = true
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			retryable = false
		}
		if se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500 {
			retryable = true
		}
		return &GatewayError{
			Op:        op,
			Code:      string(se.Code),
			Message:   se.Msg,
			Retryable: retryable,
		}
	}

	// Anything that never produced a Stripe response (network, timeout)
	// is safe to retry with the same idempotency key.
	return &GatewayError{
		Op:        op,
		Code:      "network",
		Message:   err.Error(),
		Retryable: true,
	}
}
