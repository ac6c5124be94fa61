package dto

import (
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/purchase"
	"github.com/shopspring/decimal"
)

// PurchaseLine asks for a quantity of one ticket type
type PurchaseLine struct {
	TicketTypeID string `json:"ticket_type_id" binding:"required"`
	Quantity     int    `json:"quantity" binding:"required,min=1"`
}

// PurchaseRequest represents a request to buy tickets
type PurchaseRequest struct {
	Lines        []PurchaseLine `json:"lines" binding:"required,min=1,dive"`
	VoucherCode  string         `json:"voucher_code,omitempty"`
	PaymentToken string         `json:"payment_token" binding:"required"`
	Currency     string         `json:"currency,omitempty"`
	Email        string         `json:"email,omitempty" binding:"omitempty,email"`
}

// ToRequest converts the body into an orchestrator request
func (r *PurchaseRequest) ToRequest(buyerID, idempotencyKey string) *purchase.Request {
	lines := make([]purchase.LineRequest, 0, len(r.Lines))
	for _, l := range r.Lines {
		lines = append(lines, purchase.LineRequest{TicketTypeID: l.TicketTypeID, Quantity: l.Quantity})
	}
	return &purchase.Request{
		BuyerID:        buyerID,
		Email:          r.Email,
		IdempotencyKey: idempotencyKey,
		Lines:          lines,
		VoucherCode:    r.VoucherCode,
		PaymentToken:   r.PaymentToken,
		Currency:       r.Currency,
	}
}

// OrderLineResponse represents one order line in API responses
type OrderLineResponse struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	Subtotal     string `json:"subtotal"`
}

// OrderResponse represents an order in API responses
type OrderResponse struct {
	ID                     string              `json:"id"`
	Status                 string              `json:"status"`
	State                  string              `json:"state"`
	Lines                  []OrderLineResponse `json:"lines"`
	VoucherCode            string              `json:"voucher_code,omitempty"`
	Subtotal               string              `json:"subtotal"`
	Discount               string              `json:"discount"`
	Total                  string              `json:"total"`
	Currency               string              `json:"currency"`
	PaymentProvider        string              `json:"payment_provider,omitempty"`
	PaymentReference       string              `json:"payment_reference,omitempty"`
	FailureCode            string              `json:"failure_code,omitempty"`
	FailureReason          string              `json:"failure_reason,omitempty"`
	ReconciliationRequired bool                `json:"reconciliation_required,omitempty"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
}

// PurchaseResponse is the outcome of a purchase
type PurchaseResponse struct {
	Order    *OrderResponse    `json:"order"`
	Tickets  []*TicketResponse `json:"tickets,omitempty"`
	Replayed bool              `json:"replayed,omitempty"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FromOrder converts a domain order
func FromOrder(o *domain.Order) *OrderResponse {
	lines := make([]OrderLineResponse, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, OrderLineResponse{
			TicketTypeID: l.TicketTypeID,
			Quantity:     l.Quantity,
			UnitPrice:    money(l.UnitPrice),
			Subtotal:     money(l.Subtotal()),
		})
	}
	return &OrderResponse{
		ID:                     o.ID,
		Status:                 string(o.Status),
		State:                  string(o.State),
		Lines:                  lines,
		VoucherCode:            o.VoucherCode,
		Subtotal:               money(o.Subtotal),
		Discount:               money(o.Discount),
		Total:                  money(o.Total),
		Currency:               o.Currency,
		PaymentProvider:        o.PaymentProvider,
		PaymentReference:       o.PaymentReference,
		FailureCode:            o.FailureCode,
		FailureReason:          o.FailureReason,
		ReconciliationRequired: o.ReconciliationRequired,
		CreatedAt:              o.CreatedAt,
		UpdatedAt:              o.UpdatedAt,
	}
}

// FromOrders converts a page of orders
func FromOrders(orders []*domain.Order) []*OrderResponse {
	out := make([]*OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, FromOrder(o))
	}
	return out
}

// FromResult converts an orchestrator result. Purchasers see their QR payloads.
func FromResult(r *purchase.Result) *PurchaseResponse {
	resp := &PurchaseResponse{Order: FromOrder(r.Order), Replayed: r.Replayed}
	for _, t := range r.Tickets {
		resp.Tickets = append(resp.Tickets, FromTicket(t, true))
	}
	return resp
}

// DiscountQuoteRequest asks what a voucher would do to a subtotal
type DiscountQuoteRequest struct {
	Code     string          `json:"code" binding:"required"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// DiscountQuoteResponse is a priced voucher quote
type DiscountQuoteResponse struct {
	Code     string `json:"code"`
	Kind     string `json:"kind"`
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Total    string `json:"total"`
}
