package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
)

// StripeGateway verifies that a client-confirmed PaymentIntent settled the
// exact order amount. The purchase token is the PaymentIntent id.
type StripeGateway struct {
	config *StripeGatewayConfig

	getIntent func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	newRefund func(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeGatewayConfig holds configuration for Stripe gateway
type StripeGatewayConfig struct {
	SecretKey string
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	stripe.Key = config.SecretKey

	return &StripeGateway{
		config:    config,
		getIntent: paymentintent.Get,
		newRefund: refund.New,
	}, nil
}

var _ PaymentGateway = (*StripeGateway)(nil)

// Charge checks the PaymentIntent named by req.Token
func (g *StripeGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("charge request is required")
	}
	if !strings.HasPrefix(req.Token, "pi_") {
		return declined("invalid_token", "payment token is not a PaymentIntent id"), nil
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.getIntent(req.Token, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return declined("not_found", "payment intent not found"), nil
		}
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}

	resp := &ChargeResponse{
		TransactionID: pi.ID,
		Status:        string(pi.Status),
	}

	want := domain.ToCents(req.Amount)
	switch {
	case pi.Status != stripe.PaymentIntentStatusSucceeded:
		resp.FailureCode = string(pi.Status)
		resp.FailureReason = fmt.Sprintf("payment intent status is %s", pi.Status)
	case pi.AmountReceived != want:
		resp.FailureCode = "amount_mismatch"
		resp.FailureReason = fmt.Sprintf("received %d, expected %d", pi.AmountReceived, want)
	case !strings.EqualFold(string(pi.Currency), req.Currency):
		resp.FailureCode = "currency_mismatch"
		resp.FailureReason = fmt.Sprintf("received %s, expected %s", pi.Currency, req.Currency)
	default:
		resp.Success = true
	}
	return resp, nil
}

// Refund processes a refund through Stripe
func (g *StripeGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) error {
	if transactionID == "" {
		return fmt.Errorf("transaction ID is required")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
		Amount:        stripe.Int64(domain.ToCents(amount)),
	}
	params.Context = ctx

	if _, err := g.newRefund(params); err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return "stripe"
}
