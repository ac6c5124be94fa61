package admission

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
)

// ErrVersionConflict is returned by Store.CompareAndSwap when the ticket moved on
var ErrVersionConflict = errors.New("admission: version conflict")

// Store persists issued tickets
type Store interface {
	// Insert stores tickets; ids already present are skipped, and a token held
	// by a different ticket fails the whole batch with ErrDuplicateToken
	Insert(ctx context.Context, tickets []*domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByToken(ctx context.Context, token string) (*domain.Ticket, error)
	// CompareAndSwap writes the redemption state of t if the stored version
	// still equals t.Version
	CompareAndSwap(ctx context.Context, t *domain.Ticket) error
	ListByOrder(ctx context.Context, orderID string) ([]*domain.Ticket, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]*domain.Ticket, error)
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Ticket
	byToken map[string]string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*domain.Ticket),
		byToken: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(_ context.Context, tickets []*domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tickets {
		if owner, ok := s.byToken[t.Token]; ok && owner != t.ID {
			return domain.ErrDuplicateToken
		}
	}
	for _, t := range tickets {
		if _, ok := s.byID[t.ID]; ok {
			continue
		}
		c := t.Clone()
		c.Version = 1
		s.byID[t.ID] = c
		s.byToken[t.Token] = t.ID
	}
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) GetByToken(ctx context.Context, token string) (*domain.Ticket, error) {
	s.mu.RLock()
	id, ok := s.byToken[token]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, t *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[t.ID]
	if !ok {
		return domain.ErrTicketNotFound
	}
	if current.Version != t.Version {
		return ErrVersionConflict
	}
	next := current.Clone()
	next.State = t.State
	if t.RedeemedAt != nil {
		r := *t.RedeemedAt
		next.RedeemedAt = &r
	}
	next.Version++
	s.byID[t.ID] = next
	return nil
}

func (s *MemoryStore) list(match func(*domain.Ticket) bool) []*domain.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Ticket
	for _, t := range s.byID {
		if match(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}

func (s *MemoryStore) ListByOrder(_ context.Context, orderID string) ([]*domain.Ticket, error) {
	return s.list(func(t *domain.Ticket) bool { return t.OrderID == orderID }), nil
}

func (s *MemoryStore) ListByBuyer(_ context.Context, buyerID string) ([]*domain.Ticket, error) {
	return s.list(func(t *domain.Ticket) bool { return t.BuyerID == buyerID }), nil
}
