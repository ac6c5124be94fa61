package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func chargeReq(token string) *ChargeRequest {
	return &ChargeRequest{
		OrderID:  "order-1",
		Amount:   decimal.RequireFromString("90.00"),
		Currency: "eur",
		Token:    token,
	}
}

func TestSimulatedGateway_Charge(t *testing.T) {
	g := NewSimulatedGateway(nil)

	tests := []struct {
		name        string
		token       string
		wantSuccess bool
		wantCode    string
	}{
		{"sim ok", "sim_ok", true, ""},
		{"any sim token", "sim_visa", true, ""},
		{"sim error", "sim_error", false, "card_declined"},
		{"sim error variant", "sim_error_insufficient", false, "card_declined"},
		{"real token rejected", "tok_visa", false, "invalid_token"},
		{"empty", "", false, "invalid_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := g.Charge(context.Background(), chargeReq(tt.token))
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, resp.Success)
			assert.Equal(t, tt.wantCode, resp.FailureCode)
			if tt.wantSuccess {
				assert.NotEmpty(t, resp.TransactionID)
			}
		})
	}
}

func TestSimulatedGateway_SuccessRateZero(t *testing.T) {
	g := NewSimulatedGateway(&SimulatedGatewayConfig{SuccessRate: 0})
	resp, err := g.Charge(context.Background(), chargeReq("sim_ok"))
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestSimulatedGateway_Timeout(t *testing.T) {
	g := NewSimulatedGateway(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Charge(ctx, chargeReq(SimTimeoutToken))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulatedGateway_Refund(t *testing.T) {
	g := NewSimulatedGateway(nil)
	resp, err := g.Charge(context.Background(), chargeReq("sim_ok"))
	require.NoError(t, err)

	assert.Error(t, g.Refund(context.Background(), resp.TransactionID, decimal.NewFromInt(1000)))
	assert.NoError(t, g.Refund(context.Background(), resp.TransactionID, decimal.RequireFromString("90.00")))
	assert.Error(t, g.Refund(context.Background(), resp.TransactionID, decimal.RequireFromString("90.00")))
}

func newStubStripe(pi *stripe.PaymentIntent, err error) *StripeGateway {
	g, _ := NewStripeGateway(&StripeGatewayConfig{SecretKey: "sk_test_x"})
	g.getIntent = func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		if err != nil {
			return nil, err
		}
		return pi, nil
	}
	return g
}

func TestStripeGateway_Charge(t *testing.T) {
	tests := []struct {
		name        string
		token       string
		intent      *stripe.PaymentIntent
		err         error
		wantSuccess bool
		wantCode    string
		wantErr     bool
	}{
		{
			name:        "settled exact amount",
			token:       "pi_123",
			intent:      &stripe.PaymentIntent{ID: "pi_123", Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 9000, Currency: "eur"},
			wantSuccess: true,
		},
		{
			name:     "not yet succeeded",
			token:    "pi_123",
			intent:   &stripe.PaymentIntent{ID: "pi_123", Status: stripe.PaymentIntentStatusRequiresAction},
			wantCode: "requires_action",
		},
		{
			name:     "under paid",
			token:    "pi_123",
			intent:   &stripe.PaymentIntent{ID: "pi_123", Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 100, Currency: "eur"},
			wantCode: "amount_mismatch",
		},
		{
			name:     "wrong currency",
			token:    "pi_123",
			intent:   &stripe.PaymentIntent{ID: "pi_123", Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 9000, Currency: "usd"},
			wantCode: "currency_mismatch",
		},
		{
			name:     "not a payment intent",
			token:    "sim_ok",
			wantCode: "invalid_token",
		},
		{
			name:     "unknown intent",
			token:    "pi_missing",
			err:      &stripe.Error{HTTPStatusCode: 404},
			wantCode: "not_found",
		},
		{
			name:    "transport failure",
			token:   "pi_123",
			err:     errors.New("connection reset"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newStubStripe(tt.intent, tt.err)
			resp, err := g.Charge(context.Background(), chargeReq(tt.token))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, resp.Success)
			assert.Equal(t, tt.wantCode, resp.FailureCode)
		})
	}
}

func TestNewStripeGateway_RequiresKey(t *testing.T) {
	_, err := NewStripeGateway(&StripeGatewayConfig{})
	assert.Error(t, err)
	_, err = NewStripeGateway(nil)
	assert.Error(t, err)
}
