package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
)

type stockShard struct {
	mu    sync.Mutex
	stock domain.Stock
}

// MemoryStore keeps stock and reservations in process. Each ticket type has
// its own lock, so writers of different types never contend.
type MemoryStore struct {
	shards sync.Map // ticketTypeID -> *stockShard

	resMu        sync.RWMutex
	reservations map[string]*domain.Reservation
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reservations: make(map[string]*domain.Reservation)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Seed(_ context.Context, stock domain.Stock) (bool, error) {
	stock.Version = 1
	_, loaded := s.shards.LoadOrStore(stock.TicketTypeID, &stockShard{stock: stock})
	return !loaded, nil
}

func (s *MemoryStore) shard(id string) (*stockShard, error) {
	v, ok := s.shards.Load(id)
	if !ok {
		return nil, domain.ErrTicketTypeNotFound
	}
	return v.(*stockShard), nil
}

func (s *MemoryStore) GetStock(_ context.Context, ticketTypeID string) (*domain.Stock, error) {
	sh, err := s.shard(ticketTypeID)
	if err != nil {
		return nil, err
	}
	sh.mu.Lock()
	stock := sh.stock
	sh.mu.Unlock()
	return &stock, nil
}

func (s *MemoryStore) GetReservation(_ context.Context, reservationID string) (*domain.Reservation, error) {
	s.resMu.RLock()
	defer s.resMu.RUnlock()
	r, ok := s.reservations[reservationID]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Apply(_ context.Context, change Change) error {
	sh, err := s.shard(change.Stock.TicketTypeID)
	if err != nil {
		return err
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.stock.Version != change.Stock.Version {
		return ErrVersionConflict
	}

	if res := change.Reservation; res != nil {
		// Reservations only change under their ticket type's shard lock
		s.resMu.RLock()
		current, exists := s.reservations[res.ID]
		s.resMu.RUnlock()

		switch {
		case change.ExpectedStatus == "" && exists:
			return ErrVersionConflict
		case change.ExpectedStatus != "" && (!exists || current.Status != change.ExpectedStatus):
			return ErrVersionConflict
		}

		s.resMu.Lock()
		s.reservations[res.ID] = res.Clone()
		s.resMu.Unlock()
	}

	next := change.Stock
	next.Version = sh.stock.Version + 1
	sh.stock = next
	return nil
}

func (s *MemoryStore) ExpiredHolds(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.resMu.RLock()
	var expired []*domain.Reservation
	for _, r := range s.reservations {
		if r.IsHeld() && !r.ExpiresAt.After(now) {
			expired = append(expired, r)
		}
	}
	s.resMu.RUnlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	ids := make([]string, len(expired))
	for i, r := range expired {
		ids[i] = r.ID
	}
	return ids, nil
}
