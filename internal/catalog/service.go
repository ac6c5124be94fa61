// Package catalog serves events and ticket types together with their live
// stock, and keeps the ledger seeded from the stored catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/ledger"
	"github.com/prohmpiriya/ticket-engine/internal/repository"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TicketTypeView is a ticket type with its current stock
type TicketTypeView struct {
	*domain.TicketType
	Sold      int `json:"sold"`
	Reserved  int `json:"reserved"`
	Available int `json:"available"`
}

// EventView is an event with capacity derived from its ticket types
type EventView struct {
	*domain.Event
	Stock       domain.EventStock `json:"stock"`
	TicketTypes []*TicketTypeView `json:"ticket_types"`
}

// Service defines catalog operations
type Service interface {
	CreateEvent(ctx context.Context, event *domain.Event) (*domain.Event, error)
	ListEvents(ctx context.Context) ([]*domain.Event, error)
	GetEvent(ctx context.Context, eventID string) (*EventView, error)
	ListTicketTypes(ctx context.Context, eventID string) ([]*TicketTypeView, error)
	SaveTicketType(ctx context.Context, tt *domain.TicketType) (*TicketTypeView, error)
	AdjustCapacity(ctx context.Context, ticketTypeID string, capacity int) (*TicketTypeView, error)
	// Seed registers every stored ticket type with the ledger
	Seed(ctx context.Context) (int, error)
}

// Config contains catalog service configuration
type Config struct {
	Now    func() time.Time
	Logger *logger.Logger
}

type service struct {
	repo   repository.CatalogRepository
	ledger ledger.Ledger
	now    func() time.Time
	log    *logger.Logger
}

// NewService creates a new catalog service
func NewService(repo repository.CatalogRepository, l ledger.Ledger, cfg *Config) Service {
	if cfg == nil {
		cfg = &Config{}
	}
	s := &service{repo: repo, ledger: l, now: cfg.Now, log: cfg.Logger}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logger.Get()
	}
	return s
}

func (s *service) CreateEvent(ctx context.Context, event *domain.Event) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.create_event")
	defer span.End()

	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Name) == "" {
		return nil, fmt.Errorf("%w: event id and name are required", domain.ErrInvalidEvent)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	if event.Status == "" {
		event.Status = "published"
	}
	if err := s.repo.UpsertEvent(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return event, nil
}

func (s *service) ListEvents(ctx context.Context) ([]*domain.Event, error) {
	return s.repo.ListEvents(ctx)
}

func (s *service) GetEvent(ctx context.Context, eventID string) (*EventView, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.get_event")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	types, err := s.ListTicketTypes(ctx, eventID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	stocks := make([]domain.Stock, 0, len(types))
	for _, t := range types {
		stocks = append(stocks, domain.Stock{
			TicketTypeID: t.ID,
			EventID:      eventID,
			Capacity:     t.Capacity,
			Sold:         t.Sold,
			Reserved:     t.Reserved,
		})
	}

	span.SetStatus(codes.Ok, "")
	return &EventView{Event: event, Stock: domain.SumStock(eventID, stocks), TicketTypes: types}, nil
}

func (s *service) ListTicketTypes(ctx context.Context, eventID string) ([]*TicketTypeView, error) {
	types, err := s.repo.ListTicketTypes(ctx, eventID)
	if err != nil {
		return nil, err
	}
	views := make([]*TicketTypeView, 0, len(types))
	for _, tt := range types {
		view, err := s.view(ctx, tt)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// view joins a catalog entry with the ledger's counters. A type the ledger
// has not seen yet shows its full capacity.
func (s *service) view(ctx context.Context, tt *domain.TicketType) (*TicketTypeView, error) {
	stock, err := s.ledger.Stock(ctx, tt.ID)
	if errors.Is(err, domain.ErrTicketTypeNotFound) {
		return &TicketTypeView{TicketType: tt, Available: tt.Capacity}, nil
	}
	if err != nil {
		return nil, err
	}
	out := *tt
	out.Capacity = stock.Capacity
	return &TicketTypeView{
		TicketType: &out,
		Sold:       stock.Sold,
		Reserved:   stock.Reserved,
		Available:  stock.Available(),
	}, nil
}

func (s *service) SaveTicketType(ctx context.Context, tt *domain.TicketType) (*TicketTypeView, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.save_ticket_type")
	defer span.End()
	span.SetAttributes(
		attribute.String("ticket_type_id", tt.ID),
		attribute.String("event_id", tt.EventID),
		attribute.Int("capacity", tt.Capacity),
	)

	if strings.TrimSpace(tt.ID) == "" || strings.TrimSpace(tt.EventID) == "" {
		return nil, fmt.Errorf("%w: ticket type id and event id are required", domain.ErrInvalidEvent)
	}
	if err := tt.Validate(); err != nil {
		return nil, err
	}
	tt.Currency = strings.ToLower(tt.Currency)
	now := s.now()
	if tt.CreatedAt.IsZero() {
		tt.CreatedAt = now
	}
	tt.UpdatedAt = now

	// An existing type changes capacity through the ledger first so the
	// sold plus reserved floor is checked before the catalog moves
	stock, err := s.ledger.Stock(ctx, tt.ID)
	switch {
	case err == nil:
		if stock.Capacity != tt.Capacity {
			if _, err := s.ledger.AdjustCapacity(ctx, tt.ID, tt.Capacity); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}
	case !errors.Is(err, domain.ErrTicketTypeNotFound):
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.repo.UpsertTicketType(ctx, tt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.ledger.Register(ctx, tt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	view, err := s.view(ctx, tt)
	if err != nil {
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return view, nil
}

func (s *service) AdjustCapacity(ctx context.Context, ticketTypeID string, capacity int) (*TicketTypeView, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.adjust_capacity")
	defer span.End()
	span.SetAttributes(attribute.String("ticket_type_id", ticketTypeID), attribute.Int("capacity", capacity))

	if capacity < 0 {
		return nil, domain.ErrInvalidCapacity
	}
	tt, err := s.repo.GetTicketType(ctx, ticketTypeID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if _, err := s.ledger.AdjustCapacity(ctx, ticketTypeID, capacity); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.repo.UpdateCapacity(ctx, ticketTypeID, capacity); err != nil {
		// The ledger already moved; the next save of this type repairs the catalog
		s.log.Error(fmt.Sprintf("Capacity of %s changed in ledger but not in catalog: %v", ticketTypeID, err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	tt.Capacity = capacity

	view, err := s.view(ctx, tt)
	if err != nil {
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return view, nil
}

func (s *service) Seed(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.catalog.seed")
	defer span.End()

	types, err := s.repo.ListAllTicketTypes(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to list ticket types: %w", err)
	}
	for _, tt := range types {
		if err := s.ledger.Register(ctx, tt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("failed to register ticket type %s: %w", tt.ID, err)
		}
	}

	span.SetAttributes(attribute.Int("ticket_types", len(types)))
	span.SetStatus(codes.Ok, "")
	s.log.Info(fmt.Sprintf("Ledger seeded with %d ticket types", len(types)))
	return len(types), nil
}
