package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketState is the one-way admission state
type TicketState string

const (
	TicketUnredeemed TicketState = "unredeemed"
	TicketRedeemed   TicketState = "redeemed"
)

// Ticket is an issued admission right
type Ticket struct {
	ID           string          `json:"id"`
	TicketTypeID string          `json:"ticket_type_id"`
	EventID      string          `json:"event_id"`
	OrderID      string          `json:"order_id"`
	BuyerID      string          `json:"buyer_id"`
	PricePaid    decimal.Decimal `json:"price_paid"`
	Token        string          `json:"-"`
	State        TicketState     `json:"state"`
	RedeemedAt   *time.Time      `json:"redeemed_at,omitempty"`
	IssuedAt     time.Time       `json:"issued_at"`
	Version      int64           `json:"-"`
}

// IsRedeemed reports whether the ticket has been used for admission
func (t *Ticket) IsRedeemed() bool {
	return t.State == TicketRedeemed
}

// Clone returns a deep copy
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	if t.RedeemedAt != nil {
		r := *t.RedeemedAt
		c.RedeemedAt = &r
	}
	return &c
}
