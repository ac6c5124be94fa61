package voucher

import (
	"context"
	"errors"
	"sync"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
)

// ErrVersionConflict is returned by Store.CompareAndSwap when the voucher moved on
var ErrVersionConflict = errors.New("voucher: version conflict")

// Store persists vouchers
type Store interface {
	Get(ctx context.Context, code string) (*domain.Voucher, error)
	// Save inserts or replaces a voucher definition. Holds of purchases
	// in flight survive a replace.
	Save(ctx context.Context, v *domain.Voucher) error
	// CompareAndSwap writes the usage counters of v if the stored version
	// still equals v.Version
	CompareAndSwap(ctx context.Context, v *domain.Voucher) error
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu       sync.Mutex
	vouchers map[string]*domain.Voucher
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vouchers: make(map[string]*domain.Voucher)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(_ context.Context, code string) (*domain.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[code]
	if !ok {
		return nil, domain.ErrVoucherNotFound
	}
	return v.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, v *domain.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := v.Clone()
	c.HeldUses = 0
	if existing, ok := s.vouchers[v.Code]; ok {
		c.Version = existing.Version + 1
		c.HeldUses = existing.HeldUses
	} else {
		c.Version = 1
	}
	s.vouchers[v.Code] = c
	return nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, v *domain.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.vouchers[v.Code]
	if !ok {
		return domain.ErrVoucherNotFound
	}
	if current.Version != v.Version {
		return ErrVersionConflict
	}
	next := current.Clone()
	if v.RemainingUses != nil {
		n := *v.RemainingUses
		next.RemainingUses = &n
	}
	next.HeldUses = v.HeldUses
	next.Version++
	s.vouchers[v.Code] = next
	return nil
}
