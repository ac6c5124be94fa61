package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
)

// ErrVersionConflict is returned by Store.Apply when the stored record moved on
var ErrVersionConflict = errors.New("ledger: version conflict")

// Change is one compare-and-swap against a ticket type's stock record.
// When Reservation is set, its new state is written in the same atomic step,
// guarded by the reservation's current status.
type Change struct {
	// Stock carries the new counters; its Version must be the version that was read
	Stock domain.Stock

	Reservation *domain.Reservation
	// ExpectedStatus is the reservation status that must be stored; empty means
	// the reservation must not exist yet
	ExpectedStatus domain.ReservationStatus
}

// Store is the persistence primitive behind the ledger
type Store interface {
	// Seed inserts a stock record unless one already exists
	Seed(ctx context.Context, stock domain.Stock) (bool, error)
	GetStock(ctx context.Context, ticketTypeID string) (*domain.Stock, error)
	GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error)
	// Apply performs the CAS, returning ErrVersionConflict when it lost a race
	Apply(ctx context.Context, change Change) error
	// ExpiredHolds lists held reservation ids whose expiry is at or before now
	ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error)
}
