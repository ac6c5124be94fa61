package voucher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/pkg/retry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func uses(n int) *int { return &n }

func newTestEvaluator(t *testing.T, vouchers ...*domain.Voucher) (Evaluator, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	e := NewEvaluator(store, &Config{
		Now:   func() time.Time { return now },
		Retry: &retry.Config{MaxAttempts: 100, InitialInterval: time.Microsecond, MaxInterval: time.Millisecond},
	})
	for _, v := range vouchers {
		require.NoError(t, e.Create(context.Background(), v))
	}
	return e, store
}

func TestPrice(t *testing.T) {
	expired := now.Add(-time.Minute)
	e, _ := newTestEvaluator(t,
		&domain.Voucher{Code: "SAVE10", Kind: domain.VoucherPercentage, Amount: decimal.NewFromInt(10)},
		&domain.Voucher{Code: "FIVEOFF", Kind: domain.VoucherFixed, Amount: decimal.NewFromInt(5)},
		&domain.Voucher{Code: "OLD", Kind: domain.VoucherFixed, Amount: decimal.NewFromInt(5), ExpiresAt: &expired},
		&domain.Voucher{Code: "USEDUP", Kind: domain.VoucherFixed, Amount: decimal.NewFromInt(5), RemainingUses: uses(0)},
	)

	tests := []struct {
		name      string
		code      string
		subtotal  string
		wantTotal string
		wantErr   error
	}{
		{"percentage", "SAVE10", "100.00", "90.00", nil},
		{"code is case insensitive", " save10 ", "100.00", "90.00", nil},
		{"fixed", "FIVEOFF", "12.50", "7.50", nil},
		{"fixed clamps", "FIVEOFF", "3.00", "0.00", nil},
		{"unknown", "NOPE", "100.00", "", domain.ErrInvalidDiscount},
		{"expired", "OLD", "100.00", "", domain.ErrInvalidDiscount},
		{"exhausted", "USEDUP", "100.00", "", domain.ErrInvalidDiscount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := e.Price(context.Background(), tt.code, decimal.RequireFromString(tt.subtotal))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, q.Total.Equal(decimal.RequireFromString(tt.wantTotal)), "got %s", q.Total)
			assert.True(t, q.Subtotal.Sub(q.Discount).Equal(q.Total))
		})
	}
}

func TestPrice_HasNoSideEffects(t *testing.T) {
	e, store := newTestEvaluator(t, &domain.Voucher{Code: "ONCE", Kind: domain.VoucherFixed, Amount: decimal.NewFromInt(1), RemainingUses: uses(1)})

	for i := 0; i < 3; i++ {
		_, err := e.Price(context.Background(), "ONCE", decimal.NewFromInt(10))
		require.NoError(t, err)
	}

	v, err := store.Get(context.Background(), "ONCE")
	require.NoError(t, err)
	assert.Equal(t, 1, *v.RemainingUses)
	assert.Equal(t, 0, v.HeldUses)
}

func TestHoldConsumeRelease(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEvaluator(t, &domain.Voucher{Code: "TWO", Kind: domain.VoucherFixed, Amount: decimal.NewFromInt(1), RemainingUses: uses(2)})

	require.NoError(t, e.Hold(ctx, "TWO"))
	require.NoError(t, e.Hold(ctx, "TWO"))
	assert.ErrorIs(t, e.Hold(ctx, "TWO"), domain.ErrInvalidDiscount, "both uses are held")

	require.NoError(t, e.ReleaseHold(ctx, "TWO"))
	require.NoError(t, e.Consume(ctx, "TWO"))

	v, _ := store.Get(ctx, "TWO")
	assert.Equal(t, 1, *v.RemainingUses)
	assert.Equal(t, 0, v.HeldUses)

	// Releasing with nothing held is a no-op
	require.NoError(t, e.ReleaseHold(ctx, "TWO"))
	v, _ = store.Get(ctx, "TWO")
	assert.Equal(t, 0, v.HeldUses)
}

func TestCreate_KeepsHeldUses(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEvaluator(t, &domain.Voucher{Code: "ONE", Kind: domain.VoucherFixed, Amount: decimal.NewFromInt(1), RemainingUses: uses(1)})

	require.NoError(t, e.Hold(ctx, "ONE"))

	// Re-saving the definition must not free the use held by a purchase in flight
	require.NoError(t, e.Create(ctx, &domain.Voucher{Code: "ONE", Kind: domain.VoucherFixed, Amount: decimal.NewFromInt(2), RemainingUses: uses(1)}))
	v, err := store.Get(ctx, "ONE")
	require.NoError(t, err)
	assert.Equal(t, 1, v.HeldUses)
	assert.True(t, v.Amount.Equal(decimal.NewFromInt(2)))

	assert.ErrorIs(t, e.Hold(ctx, "ONE"), domain.ErrInvalidDiscount)
	require.NoError(t, e.Consume(ctx, "ONE"))

	// A new voucher never starts with holds
	require.NoError(t, store.Save(ctx, &domain.Voucher{Code: "FRESH", Kind: domain.VoucherFixed, Amount: decimal.NewFromInt(1), HeldUses: 3}))
	v, err = store.Get(ctx, "FRESH")
	require.NoError(t, err)
	assert.Equal(t, 0, v.HeldUses)
}

func TestHold_Unlimited(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEvaluator(t, &domain.Voucher{Code: "FREE4ALL", Kind: domain.VoucherPercentage, Amount: decimal.NewFromInt(5)})

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Hold(ctx, "FREE4ALL"))
		require.NoError(t, e.Consume(ctx, "FREE4ALL"))
	}
	v, _ := store.Get(ctx, "FREE4ALL")
	assert.Nil(t, v.RemainingUses)
	assert.Equal(t, 0, v.HeldUses)
}

func TestHold_LastUseRace(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEvaluator(t, &domain.Voucher{Code: "LAST", Kind: domain.VoucherFixed, Amount: decimal.NewFromInt(1), RemainingUses: uses(1)})

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		losers  atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.Hold(ctx, "LAST")
			switch {
			case err == nil:
				winners.Add(1)
				_ = e.Consume(ctx, "LAST")
			case errors.Is(err, domain.ErrInvalidDiscount):
				losers.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(19), losers.Load())

	v, _ := store.Get(ctx, "LAST")
	assert.Equal(t, 0, *v.RemainingUses)
	assert.GreaterOrEqual(t, *v.RemainingUses, 0)
}

// conflictStore loses every CAS
type conflictStore struct{ *MemoryStore }

func (conflictStore) CompareAndSwap(context.Context, *domain.Voucher) error {
	return ErrVersionConflict
}

func TestHold_ConcurrencyExceeded(t *testing.T) {
	store := conflictStore{NewMemoryStore()}
	require.NoError(t, store.Save(context.Background(), &domain.Voucher{Code: "HOT", Kind: domain.VoucherFixed, Amount: decimal.NewFromInt(1), RemainingUses: uses(5)}))
	e := NewEvaluator(store, &Config{Retry: &retry.Config{MaxAttempts: 2, InitialInterval: time.Microsecond}})

	assert.ErrorIs(t, e.Hold(context.Background(), "HOT"), domain.ErrConcurrencyExceeded)
}

func TestCreate_Validation(t *testing.T) {
	e, _ := newTestEvaluator(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.Create(ctx, &domain.Voucher{Code: "", Kind: domain.VoucherFixed}), domain.ErrInvalidDiscount)
	assert.ErrorIs(t, e.Create(ctx, &domain.Voucher{Code: "X", Kind: "bogus"}), domain.ErrInvalidDiscount)
	assert.ErrorIs(t, e.Create(ctx, &domain.Voucher{Code: "X", Kind: domain.VoucherFixed, Amount: decimal.NewFromInt(-1)}), domain.ErrInvalidPrice)
}
