package dto

import (
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/qrcodec"
)

// TicketResponse represents an issued ticket
type TicketResponse struct {
	ID           string     `json:"id"`
	TicketTypeID string     `json:"ticket_type_id"`
	EventID      string     `json:"event_id"`
	OrderID      string     `json:"order_id"`
	PricePaid    string     `json:"price_paid"`
	State        string     `json:"state"`
	QRPayload    string     `json:"qr_payload,omitempty"`
	IssuedAt     time.Time  `json:"issued_at"`
	RedeemedAt   *time.Time `json:"redeemed_at,omitempty"`
}

// FromTicket converts a domain ticket. withPayload exposes the scannable
// payload and is only set for the ticket's owner.
func FromTicket(t *domain.Ticket, withPayload bool) *TicketResponse {
	resp := &TicketResponse{
		ID:           t.ID,
		TicketTypeID: t.TicketTypeID,
		EventID:      t.EventID,
		OrderID:      t.OrderID,
		PricePaid:    money(t.PricePaid),
		State:        string(t.State),
		IssuedAt:     t.IssuedAt,
		RedeemedAt:   t.RedeemedAt,
	}
	if withPayload && t.Token != "" {
		resp.QRPayload = qrcodec.Payload(t.Token)
	}
	return resp
}

// FromTickets converts a list of tickets for their owner
func FromTickets(tickets []*domain.Ticket) []*TicketResponse {
	out := make([]*TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, FromTicket(t, true))
	}
	return out
}

// AdmissionRequest carries the text read from a QR code
type AdmissionRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// AdmissionResponse is the gate's answer for a scanned ticket
type AdmissionResponse struct {
	Valid    bool            `json:"valid"`
	Redeemed bool            `json:"redeemed"`
	Ticket   *TicketResponse `json:"ticket"`
}
