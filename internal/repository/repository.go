// Package repository persists catalog data and purchase orders.
package repository

import (
	"context"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
)

// CatalogRepository stores events and ticket types
type CatalogRepository interface {
	UpsertEvent(ctx context.Context, event *domain.Event) error
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	ListEvents(ctx context.Context) ([]*domain.Event, error)

	UpsertTicketType(ctx context.Context, tt *domain.TicketType) error
	GetTicketType(ctx context.Context, id string) (*domain.TicketType, error)
	ListTicketTypes(ctx context.Context, eventID string) ([]*domain.TicketType, error)
	// ListAllTicketTypes is used to seed the ledger at startup
	ListAllTicketTypes(ctx context.Context) ([]*domain.TicketType, error)
	UpdateCapacity(ctx context.Context, id string, capacity int) error
}

// OrderRepository stores purchase orders
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	Update(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, buyerID, key string) (*domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]*domain.Order, error)
}
