package payments

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stripe/stripe-go/v81"
)

func TestClassifyStripeError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		code      string
	}{
		{
			name: "card decline is hard",
			err: &stripe.Error{
				Type: stripe.ErrorTypeCard,
				Code: stripe.ErrorCodeCardDeclined,
				Msg:  "Your card was declined.",
			},
			retryable: false,
			code:      string(stripe.ErrorCodeCardDeclined),
		},
		{
			name: "invalid request is hard",
			err: &stripe.Error{
				Type: stripe.ErrorTypeInvalidRequest,
				Code: stripe.ErrorCodeParameterMissing,
			},
			retryable: false,
			code:      string(stripe.ErrorCodeParameterMissing),
		},
		{
			name: "api error is retryable",
			err: &stripe.Error{
				Type: stripe.ErrorTypeAPI,
			},
			retryable: true,
		},
		{
			name: "rate limit is retryable",
			err: &stripe.Error{
				Type:           stripe.ErrorTypeInvalidRequest,
				HTTPStatusCode: http.StatusTooManyRequests,
			},
			retryable: true,
		},
		{
			name: "server error is retryable",
			err: &stripe.Error{
				Type:           stripe.ErrorTypeCard,
				HTTPStatusCode: http.StatusBadGateway,
			},
			retryable: true,
		},
		{
			name:      "plain network error is retryable",
			err:       errors.New("dial tcp: connection refused"),
			retryable: true,
			code:      "network",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ge := classifyStripeError("charge", tt.err)
			if ge.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", ge.Retryable, tt.retryable)
			}
			if tt.code != "" && ge.Code != tt.code {
				t.Errorf("code = %q, want %q", ge.Code, tt.code)
			}
			if ge.Op != "charge" {
				t.Errorf("op = %q, want charge", ge.Op)
			}
		})
	}
}

func TestGatewayErrorPassthrough(t *testing.T) {
	orig := &GatewayError{Op: "transfer", Code: "circuit_open", Retryable: true}
	got := classifyStripeError("transfer", orig)
	if got != orig {
		t.Error("expected existing GatewayError to pass through unchanged")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&GatewayError{Retryable: true}) {
		t.Error("retryable GatewayError should report retryable")
	}
	if IsRetryable(&GatewayError{Retryable: false}) {
		t.Error("hard GatewayError should not report retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("non-gateway error should not report retryable")
	}
}
