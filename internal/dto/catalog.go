package dto

import (
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// EventRequest creates or updates an event
type EventRequest struct {
	ID       string    `json:"id" binding:"required"`
	Name     string    `json:"name" binding:"required"`
	Venue    string    `json:"venue,omitempty"`
	StartsAt time.Time `json:"starts_at"`
	Status   string    `json:"status,omitempty"`
}

// ToDomain converts the request into a domain event
func (r *EventRequest) ToDomain() *domain.Event {
	return &domain.Event{
		ID:       r.ID,
		Name:     r.Name,
		Venue:    r.Venue,
		StartsAt: r.StartsAt,
		Status:   r.Status,
	}
}

// TicketTypeRequest creates or updates a ticket type
type TicketTypeRequest struct {
	ID        string          `json:"id" binding:"required"`
	EventID   string          `json:"event_id" binding:"required"`
	Label     string          `json:"label" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Currency  string          `json:"currency" binding:"required,len=3"`
	Capacity  int             `json:"capacity" binding:"min=0"`
}

// ToDomain converts the request into a domain ticket type
func (r *TicketTypeRequest) ToDomain() *domain.TicketType {
	return &domain.TicketType{
		ID:        r.ID,
		EventID:   r.EventID,
		Label:     r.Label,
		UnitPrice: r.UnitPrice,
		Currency:  r.Currency,
		Capacity:  r.Capacity,
	}
}

// CapacityRequest sets a ticket type's capacity
type CapacityRequest struct {
	Capacity *int `json:"capacity" binding:"required,min=0"`
}

// VoucherRequest creates or replaces a voucher. RemainingUses nil means unlimited.
type VoucherRequest struct {
	Code          string          `json:"code" binding:"required"`
	Kind          string          `json:"kind" binding:"required,oneof=percentage fixed"`
	Amount        decimal.Decimal `json:"amount"`
	RemainingUses *int            `json:"remaining_uses,omitempty" binding:"omitempty,min=0"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

// ToDomain converts the request into a domain voucher
func (r *VoucherRequest) ToDomain() *domain.Voucher {
	return &domain.Voucher{
		Code:          r.Code,
		Kind:          domain.VoucherKind(r.Kind),
		Amount:        r.Amount,
		RemainingUses: r.RemainingUses,
		ExpiresAt:     r.ExpiresAt,
	}
}
