package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-engine/pkg/retry"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RedemptionListener is told about every successful redemption
type RedemptionListener interface {
	TicketRedeemed(ctx context.Context, ticket *domain.Ticket) error
}

// Registry issues tickets and redeems them at most once
type Registry interface {
	Issue(ctx context.Context, tickets []*domain.Ticket) error
	Redeem(ctx context.Context, token string) (*domain.Ticket, error)
	Lookup(ctx context.Context, token string) (*domain.Ticket, error)
	Get(ctx context.Context, ticketID string) (*domain.Ticket, error)
	TicketsByOrder(ctx context.Context, orderID string) ([]*domain.Ticket, error)
	TicketsByBuyer(ctx context.Context, buyerID string) ([]*domain.Ticket, error)
}

// Config contains registry configuration
type Config struct {
	Retry    *retry.Config
	Now      func() time.Time
	Logger   *logger.Logger
	Listener RedemptionListener
}

type registry struct {
	store    Store
	retrier  *retry.Retrier
	now      func() time.Time
	log      *logger.Logger
	listener RedemptionListener
}

// NewRegistry creates a Registry over store
func NewRegistry(store Store, cfg *Config) Registry {
	if cfg == nil {
		cfg = &Config{}
	}
	r := &registry{
		store:    store,
		retrier:  retry.New(cfg.Retry),
		now:      cfg.Now,
		log:      cfg.Logger,
		listener: cfg.Listener,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log == nil {
		r.log = logger.Get()
	}
	return r
}

func (r *registry) Issue(ctx context.Context, tickets []*domain.Ticket) error {
	ctx, span := telemetry.StartSpan(ctx, "service.admission.issue")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(tickets)))

	seen := make(map[string]struct{}, len(tickets))
	for _, t := range tickets {
		if t.Token == "" {
			return domain.ErrInvalidToken
		}
		if _, dup := seen[t.Token]; dup {
			return domain.ErrDuplicateToken
		}
		seen[t.Token] = struct{}{}
		if t.State == "" {
			t.State = domain.TicketUnredeemed
		}
		if t.IssuedAt.IsZero() {
			t.IssuedAt = r.now()
		}
	}

	if err := r.store.Insert(ctx, tickets); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *registry) Redeem(ctx context.Context, token string) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.admission.redeem")
	defer span.End()

	var redeemed *domain.Ticket
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		t, err := r.store.GetByToken(ctx, token)
		if err != nil {
			return retry.Permanent(err)
		}
		if t.IsRedeemed() {
			return retry.Permanent(domain.ErrAlreadyRedeemed)
		}

		at := r.now()
		t.State = domain.TicketRedeemed
		t.RedeemedAt = &at
		if err := r.store.CompareAndSwap(ctx, t); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		t.Version++
		redeemed = t
		return nil
	})

	err := result.Err
	if result.Exhausted() {
		err = domain.ErrConcurrencyExceeded
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("ticket_id", redeemed.ID),
		attribute.Int("attempts", result.Attempts),
	)
	span.SetStatus(codes.Ok, "")

	if r.listener != nil {
		if err := r.listener.TicketRedeemed(ctx, redeemed); err != nil {
			r.log.Warn(fmt.Sprintf("Failed to announce redemption of ticket %s: %v", redeemed.ID, err))
		}
	}
	return redeemed, nil
}

func (r *registry) Lookup(ctx context.Context, token string) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.admission.lookup")
	defer span.End()

	t, err := r.store.GetByToken(ctx, token)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("ticket_id", t.ID), attribute.String("state", string(t.State)))
	span.SetStatus(codes.Ok, "")
	return t, nil
}

func (r *registry) Get(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return r.store.GetByID(ctx, ticketID)
}

func (r *registry) TicketsByOrder(ctx context.Context, orderID string) ([]*domain.Ticket, error) {
	return r.store.ListByOrder(ctx, orderID)
}

func (r *registry) TicketsByBuyer(ctx context.Context, buyerID string) ([]*domain.Ticket, error) {
	if buyerID == "" {
		return nil, domain.ErrInvalidBuyer
	}
	return r.store.ListByBuyer(ctx, buyerID)
}
