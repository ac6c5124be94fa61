package domain

import "time"

// ReservationStatus is the lifecycle of a stock hold
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Release reasons
const (
	ReleaseReasonPaymentFailed  = "payment_failed"
	ReleaseReasonTimedOut       = "timed_out"
	ReleaseReasonExpired        = "expired"
	ReleaseReasonAbandoned      = "abandoned"
	ReleaseReasonInvalidVoucher = "invalid_discount"
	ReleaseReasonAborted        = "aborted"
	ReleaseReasonRefunded       = "refunded"
)

// Reservation is a hold on quantity units of one ticket type
type Reservation struct {
	ID             string            `json:"id"`
	TicketTypeID   string            `json:"ticket_type_id"`
	OrderID        string            `json:"order_id"`
	Quantity       int               `json:"quantity"`
	Status         ReservationStatus `json:"status"`
	TicketIDs      []string          `json:"ticket_ids,omitempty"`
	ReleasedReason string            `json:"released_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

// IsHeld reports whether the reservation still counts against reserved stock
func (r *Reservation) IsHeld() bool {
	return r.Status == ReservationHeld
}

// Clone returns a deep copy
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	if r.TicketIDs != nil {
		c.TicketIDs = append([]string(nil), r.TicketIDs...)
	}
	return &c
}
