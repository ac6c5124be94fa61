// Package gateway adapts external payment authorities.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeRequest asks the payment authority to settle an amount
type ChargeRequest struct {
	OrderID     string
	BuyerID     string
	Amount      decimal.Decimal
	Currency    string
	Token       string
	Description string
	Metadata    map[string]string
}

// ChargeResponse is the authority's verdict. A declined charge is a
// response with Success false, not an error.
type ChargeResponse struct {
	Success       bool
	TransactionID string
	Status        string
	FailureReason string
	FailureCode   string
}

// PaymentGateway is the payment authority
type PaymentGateway interface {
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error)
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal) error
	Name() string
}
