package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-engine/pkg/retry"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultReservationTTL is how long a hold lives before the sweeper reclaims it
const DefaultReservationTTL = 15 * time.Minute

// Ledger is the only writer of ticket type stock counters
type Ledger interface {
	Register(ctx context.Context, ticketType *domain.TicketType) error
	Reserve(ctx context.Context, ticketTypeID, orderID string, quantity int) (*domain.Reservation, error)
	Commit(ctx context.Context, reservationID string) ([]string, error)
	Release(ctx context.Context, reservationID, reason string) error
	Sweep(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	AdjustCapacity(ctx context.Context, ticketTypeID string, capacity int) (*domain.Stock, error)
	Stock(ctx context.Context, ticketTypeID string) (*domain.Stock, error)
	EventStock(ctx context.Context, eventID string, ticketTypeIDs []string) (*domain.EventStock, error)
	GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error)
}

// Config contains ledger configuration
type Config struct {
	ReservationTTL time.Duration
	Retry          *retry.Config
	Now            func() time.Time
	Logger         *logger.Logger
}

type ledger struct {
	store   Store
	retrier *retry.Retrier
	ttl     time.Duration
	now     func() time.Time
	log     *logger.Logger
}

// New creates a ledger over store
func New(store Store, cfg *Config) Ledger {
	if cfg == nil {
		cfg = &Config{}
	}
	l := &ledger{
		store:   store,
		retrier: retry.New(cfg.Retry),
		ttl:     cfg.ReservationTTL,
		now:     cfg.Now,
		log:     cfg.Logger,
	}
	if l.ttl <= 0 {
		l.ttl = DefaultReservationTTL
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.log == nil {
		l.log = logger.Get()
	}
	return l
}

// cas runs op under the retry policy, translating exhaustion into
// ErrConcurrencyExceeded. op must wrap business failures with retry.Permanent.
func (l *ledger) cas(ctx context.Context, op retry.Operation) error {
	result := l.retrier.Do(ctx, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil || errors.Is(err, ErrVersionConflict) {
			return err
		}
		var perm *retry.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		// Store failures other than a lost race are not worth retrying here
		return retry.Permanent(err)
	})

	switch {
	case result.Err == nil:
		return nil
	case result.Exhausted():
		return domain.ErrConcurrencyExceeded
	case errors.Is(result.Err, retry.ErrContextCanceled):
		if err := ctx.Err(); err != nil {
			return err
		}
		return result.Err
	default:
		return result.Err
	}
}

func (l *ledger) Register(ctx context.Context, tt *domain.TicketType) error {
	ctx, span := telemetry.StartSpan(ctx, "service.ledger.register")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_type_id", tt.ID), attribute.Int("capacity", tt.Capacity))

	if err := tt.Validate(); err != nil {
		return err
	}

	created, err := l.store.Seed(ctx, domain.Stock{
		TicketTypeID: tt.ID,
		EventID:      tt.EventID,
		Capacity:     tt.Capacity,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to seed stock: %w", err)
	}
	if created {
		l.log.Info(fmt.Sprintf("Seeded stock for ticket type %s with capacity %d", tt.ID, tt.Capacity))
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (l *ledger) Reserve(ctx context.Context, ticketTypeID, orderID string, quantity int) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ledger.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("ticket_type_id", ticketTypeID),
		attribute.String("order_id", orderID),
		attribute.Int("quantity", quantity),
	)

	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	now := l.now()
	res := &domain.Reservation{
		ID:           uuid.New().String(),
		TicketTypeID: ticketTypeID,
		OrderID:      orderID,
		Quantity:     quantity,
		Status:       domain.ReservationHeld,
		CreatedAt:    now,
		ExpiresAt:    now.Add(l.ttl),
	}

	err := l.cas(ctx, func(ctx context.Context) error {
		stock, err := l.store.GetStock(ctx, ticketTypeID)
		if err != nil {
			return retry.Permanent(err)
		}
		if stock.Sold+stock.Reserved+quantity > stock.Capacity {
			return retry.Permanent(&domain.OutOfStockError{
				TicketTypeID: ticketTypeID,
				Requested:    quantity,
				Available:    stock.Available(),
			})
		}

		next := *stock
		next.Reserved += quantity
		return l.store.Apply(ctx, Change{Stock: next, Reservation: res})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("reservation_id", res.ID))
	span.SetStatus(codes.Ok, "")
	return res.Clone(), nil
}

func (l *ledger) Commit(ctx context.Context, reservationID string) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ledger.commit")
	defer span.End()
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	var ticketIDs []string
	err := l.cas(ctx, func(ctx context.Context) error {
		res, err := l.store.GetReservation(ctx, reservationID)
		if err != nil {
			return retry.Permanent(err)
		}
		switch res.Status {
		case domain.ReservationCommitted:
			ticketIDs = res.TicketIDs
			return nil
		case domain.ReservationReleased:
			return retry.Permanent(domain.ErrReservationReleased)
		}

		stock, err := l.store.GetStock(ctx, res.TicketTypeID)
		if err != nil {
			return retry.Permanent(err)
		}

		ids := make([]string, res.Quantity)
		for i := range ids {
			ids[i] = uuid.New().String()
		}

		next := *stock
		next.Reserved -= res.Quantity
		next.Sold += res.Quantity

		committed := res.Clone()
		committed.Status = domain.ReservationCommitted
		committed.TicketIDs = ids

		if err := l.store.Apply(ctx, Change{Stock: next, Reservation: committed, ExpectedStatus: domain.ReservationHeld}); err != nil {
			return err
		}
		ticketIDs = ids
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return append([]string(nil), ticketIDs...), nil
}

func (l *ledger) Release(ctx context.Context, reservationID, reason string) error {
	_, err := l.release(ctx, reservationID, reason)
	return err
}

// release returns the reservation when this call moved it out of held
func (l *ledger) release(ctx context.Context, reservationID, reason string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ledger.release")
	defer span.End()
	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("reason", reason),
	)

	var released *domain.Reservation
	err := l.cas(ctx, func(ctx context.Context) error {
		released = nil
		res, err := l.store.GetReservation(ctx, reservationID)
		if err != nil {
			return retry.Permanent(err)
		}
		if !res.IsHeld() {
			return nil
		}

		stock, err := l.store.GetStock(ctx, res.TicketTypeID)
		if err != nil {
			return retry.Permanent(err)
		}

		next := *stock
		next.Reserved -= res.Quantity
		if next.Reserved < 0 {
			next.Reserved = 0
		}

		out := res.Clone()
		out.Status = domain.ReservationReleased
		out.ReleasedReason = reason

		if err := l.store.Apply(ctx, Change{Stock: next, Reservation: out, ExpectedStatus: domain.ReservationHeld}); err != nil {
			return err
		}
		released = out
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Bool("released", released != nil))
	span.SetStatus(codes.Ok, "")
	return released, nil
}

func (l *ledger) Sweep(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ledger.sweep")
	defer span.End()

	ids, err := l.store.ExpiredHolds(ctx, now, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var released []*domain.Reservation
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		res, err := l.release(ctx, id, domain.ReleaseReasonExpired)
		if err != nil {
			l.log.Warn(fmt.Sprintf("Failed to release expired reservation %s: %v", id, err))
			continue
		}
		if res != nil {
			released = append(released, res)
		}
	}

	span.SetAttributes(
		attribute.Int("expired", len(ids)),
		attribute.Int("released", len(released)),
	)
	span.SetStatus(codes.Ok, "")
	return released, nil
}

func (l *ledger) AdjustCapacity(ctx context.Context, ticketTypeID string, capacity int) (*domain.Stock, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.ledger.adjust_capacity")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_type_id", ticketTypeID), attribute.Int("capacity", capacity))

	var out domain.Stock
	err := l.cas(ctx, func(ctx context.Context) error {
		stock, err := l.store.GetStock(ctx, ticketTypeID)
		if err != nil {
			return retry.Permanent(err)
		}
		if capacity < stock.Sold+stock.Reserved {
			return retry.Permanent(domain.ErrInvalidCapacity)
		}
		next := *stock
		next.Capacity = capacity
		if err := l.store.Apply(ctx, Change{Stock: next}); err != nil {
			return err
		}
		out = next
		out.Version++
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	l.log.Info(fmt.Sprintf("Capacity of ticket type %s set to %d", ticketTypeID, capacity))
	span.SetStatus(codes.Ok, "")
	return &out, nil
}

func (l *ledger) Stock(ctx context.Context, ticketTypeID string) (*domain.Stock, error) {
	return l.store.GetStock(ctx, ticketTypeID)
}

func (l *ledger) EventStock(ctx context.Context, eventID string, ticketTypeIDs []string) (*domain.EventStock, error) {
	stocks := make([]domain.Stock, 0, len(ticketTypeIDs))
	for _, id := range ticketTypeIDs {
		s, err := l.store.GetStock(ctx, id)
		if errors.Is(err, domain.ErrTicketTypeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, *s)
	}
	view := domain.SumStock(eventID, stocks)
	return &view, nil
}

func (l *ledger) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	return l.store.GetReservation(ctx, reservationID)
}
