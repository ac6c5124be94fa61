package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the externally visible payment status of an order
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderPaid     OrderStatus = "paid"
	OrderFailed   OrderStatus = "failed"
	OrderRefunded OrderStatus = "refunded"
)

// IsTerminal reports whether the status can no longer change
func (s OrderStatus) IsTerminal() bool {
	return s != OrderPending
}

// PurchaseState is the orchestrator state the purchase reached
type PurchaseState string

const (
	StateInitiated              PurchaseState = "initiated"
	StateReserved               PurchaseState = "reserved"
	StatePriced                 PurchaseState = "priced"
	StateAuthorized             PurchaseState = "authorized"
	StateCommitted              PurchaseState = "committed"
	StateReservationFailed      PurchaseState = "reservation_failed"
	StatePaymentFailed          PurchaseState = "payment_failed"
	StateTimedOut               PurchaseState = "timed_out"
	StateReleased               PurchaseState = "released"
	StateReconciliationRequired PurchaseState = "reconciliation_required"
)

// IsTerminal reports whether the state machine has stopped
func (s PurchaseState) IsTerminal() bool {
	switch s {
	case StateCommitted, StateReservationFailed, StateReleased, StateReconciliationRequired:
		return true
	}
	return false
}

// Failure codes recorded on orders that did not commit
const (
	FailureOutOfStock      = "OUT_OF_STOCK"
	FailureInvalidDiscount = "INVALID_DISCOUNT"
	FailurePaymentDeclined = "PAYMENT_DECLINED"
	FailurePaymentTimeout  = "PAYMENT_TIMEOUT"
	FailureContention      = "CONCURRENCY_EXCEEDED"
	FailureAbandoned       = "ABANDONED"
	FailureExpired         = "EXPIRED"
	FailureInternal        = "INTERNAL_ERROR"
)

// OrderLine is one ticket type and quantity within an order
type OrderLine struct {
	TicketTypeID  string          `json:"ticket_type_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	ReservationID string          `json:"reservation_id,omitempty"`
}

// Subtotal returns quantity times unit price
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is a purchase attempt and its outcome
type Order struct {
	ID                     string          `json:"id"`
	BuyerID                string          `json:"buyer_id"`
	Email                  string          `json:"email,omitempty"`
	IdempotencyKey         string          `json:"-"`
	RequestHash            string          `json:"-"`
	Lines                  []OrderLine     `json:"lines"`
	VoucherCode            string          `json:"voucher_code,omitempty"`
	Subtotal               decimal.Decimal `json:"subtotal"`
	Discount               decimal.Decimal `json:"discount"`
	Total                  decimal.Decimal `json:"total"`
	Currency               string          `json:"currency"`
	Status                 OrderStatus     `json:"status"`
	State                  PurchaseState   `json:"state"`
	PaymentProvider        string          `json:"payment_provider,omitempty"`
	PaymentReference       string          `json:"payment_reference,omitempty"`
	FailureCode            string          `json:"failure_code,omitempty"`
	FailureReason          string          `json:"failure_reason,omitempty"`
	ReconciliationRequired bool            `json:"reconciliation_required"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// TotalQuantity returns the number of tickets across all lines
func (o *Order) TotalQuantity() int {
	n := 0
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}

// Clone returns a deep copy
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Lines = append([]OrderLine(nil), o.Lines...)
	return &c
}
