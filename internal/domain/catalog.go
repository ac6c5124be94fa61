package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketType is a purchasable class of admission for one event
type TicketType struct {
	ID        string          `json:"id"`
	EventID   string          `json:"event_id"`
	Label     string          `json:"label"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Currency  string          `json:"currency"`
	Capacity  int             `json:"capacity"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Validate checks the catalog-level fields of a ticket type
func (t *TicketType) Validate() error {
	if t.UnitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	if t.Capacity < 0 {
		return ErrInvalidCapacity
	}
	return nil
}

// Stock is the ledger's versioned counter record for one ticket type
type Stock struct {
	TicketTypeID string `json:"ticket_type_id"`
	EventID      string `json:"event_id"`
	Capacity     int    `json:"capacity"`
	Sold         int    `json:"sold"`
	Reserved     int    `json:"reserved"`
	Version      int64  `json:"version"`
}

// Available returns the units that can still be reserved
func (s Stock) Available() int {
	if a := s.Capacity - s.Sold - s.Reserved; a > 0 {
		return a
	}
	return 0
}

// Event is catalog metadata; its counts are always derived from its ticket types
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Venue     string    `json:"venue"`
	StartsAt  time.Time `json:"starts_at"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// EventStock is the read-only capacity view of an event
type EventStock struct {
	EventID   string `json:"event_id"`
	Capacity  int    `json:"capacity"`
	Sold      int    `json:"sold"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
}

// SumStock derives the event view from its ticket types' stock
func SumStock(eventID string, stocks []Stock) EventStock {
	view := EventStock{EventID: eventID}
	for _, s := range stocks {
		view.Capacity += s.Capacity
		view.Sold += s.Sold
		view.Reserved += s.Reserved
		view.Available += s.Available()
	}
	return view
}
