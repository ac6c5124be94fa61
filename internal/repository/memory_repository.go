package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
)

// MemoryCatalogRepository is an in-process CatalogRepository
type MemoryCatalogRepository struct {
	mu          sync.RWMutex
	events      map[string]*domain.Event
	ticketTypes map[string]*domain.TicketType
}

// NewMemoryCatalogRepository creates an empty catalog
func NewMemoryCatalogRepository() *MemoryCatalogRepository {
	return &MemoryCatalogRepository{
		events:      make(map[string]*domain.Event),
		ticketTypes: make(map[string]*domain.TicketType),
	}
}

var _ CatalogRepository = (*MemoryCatalogRepository)(nil)

func (r *MemoryCatalogRepository) UpsertEvent(_ context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *event
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	r.events[event.ID] = &c
	return nil
}

func (r *MemoryCatalogRepository) GetEvent(_ context.Context, id string) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	c := *e
	return &c, nil
}

func (r *MemoryCatalogRepository) ListEvents(_ context.Context) ([]*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Event, 0, len(r.events))
	for _, e := range r.events {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryCatalogRepository) UpsertTicketType(_ context.Context, tt *domain.TicketType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[tt.EventID]; !ok {
		return domain.ErrEventNotFound
	}
	c := *tt
	now := time.Now()
	if existing, ok := r.ticketTypes[tt.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.ticketTypes[tt.ID] = &c
	return nil
}

func (r *MemoryCatalogRepository) GetTicketType(_ context.Context, id string) (*domain.TicketType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tt, ok := r.ticketTypes[id]
	if !ok {
		return nil, domain.ErrTicketTypeNotFound
	}
	c := *tt
	return &c, nil
}

func (r *MemoryCatalogRepository) list(match func(*domain.TicketType) bool) []*domain.TicketType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.TicketType
	for _, tt := range r.ticketTypes {
		if match(tt) {
			c := *tt
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryCatalogRepository) ListTicketTypes(_ context.Context, eventID string) ([]*domain.TicketType, error) {
	return r.list(func(tt *domain.TicketType) bool { return tt.EventID == eventID }), nil
}

func (r *MemoryCatalogRepository) ListAllTicketTypes(_ context.Context) ([]*domain.TicketType, error) {
	return r.list(func(*domain.TicketType) bool { return true }), nil
}

func (r *MemoryCatalogRepository) UpdateCapacity(_ context.Context, id string, capacity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tt, ok := r.ticketTypes[id]
	if !ok {
		return domain.ErrTicketTypeNotFound
	}
	tt.Capacity = capacity
	tt.UpdatedAt = time.Now()
	return nil
}

// MemoryOrderRepository is an in-process OrderRepository
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

// NewMemoryOrderRepository creates an empty order repository
func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*domain.Order)}
}

var _ OrderRepository = (*MemoryOrderRepository)(nil)

func (r *MemoryOrderRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.BuyerID == order.BuyerID && o.IdempotencyKey == order.IdempotencyKey {
			return domain.ErrIdempotencyConflict
		}
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryOrderRepository) Update(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryOrderRepository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryOrderRepository) GetByIdempotencyKey(_ context.Context, buyerID, key string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.BuyerID == buyerID && o.IdempotencyKey == key {
			return o.Clone(), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (r *MemoryOrderRepository) ListByBuyer(_ context.Context, buyerID string, limit, offset int) ([]*domain.Order, error) {
	r.mu.RLock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.BuyerID == buyerID {
			out = append(out, o.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func paginate(orders []*domain.Order, limit, offset int) []*domain.Order {
	if limit <= 0 {
		limit = 20
	}
	if offset >= len(orders) {
		return []*domain.Order{}
	}
	orders = orders[offset:]
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders
}
