package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/ledger"
	"github.com/prohmpiriya/ticket-engine/internal/repository"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (Service, *repository.MemoryCatalogRepository, ledger.Ledger) {
	t.Helper()
	repo := repository.NewMemoryCatalogRepository()
	l := ledger.New(ledger.NewMemoryStore(), &ledger.Config{Logger: logger.NewNop()})
	svc := NewService(repo, l, &Config{Logger: logger.NewNop()})

	_, err := svc.CreateEvent(context.Background(), &domain.Event{ID: "ev-1", Name: "Opening Night", Venue: "Hall A"})
	require.NoError(t, err)
	return svc, repo, l
}

func ticketType(id string, capacity int) *domain.TicketType {
	return &domain.TicketType{
		ID:        id,
		EventID:   "ev-1",
		Label:     id,
		UnitPrice: decimal.RequireFromString("50.00"),
		Currency:  "EUR",
		Capacity:  capacity,
	}
}

func TestSaveTicketType_RegistersStock(t *testing.T) {
	svc, _, l := newTestService(t)
	ctx := context.Background()

	view, err := svc.SaveTicketType(ctx, ticketType("ga", 100))
	require.NoError(t, err)
	assert.Equal(t, 100, view.Available)
	assert.Equal(t, "eur", view.Currency)

	stock, err := l.Stock(ctx, "ga")
	require.NoError(t, err)
	assert.Equal(t, 100, stock.Capacity)
}

func TestSaveTicketType_UnknownEvent(t *testing.T) {
	svc, _, _ := newTestService(t)
	tt := ticketType("ga", 10)
	tt.EventID = "missing"

	_, err := svc.SaveTicketType(context.Background(), tt)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestSaveTicketType_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name    string
		mutate  func(tt *domain.TicketType)
		wantErr error
	}{
		{"missing id", func(tt *domain.TicketType) { tt.ID = "" }, domain.ErrInvalidEvent},
		{"negative price", func(tt *domain.TicketType) { tt.UnitPrice = decimal.NewFromInt(-1) }, domain.ErrInvalidPrice},
		{"negative capacity", func(tt *domain.TicketType) { tt.Capacity = -1 }, domain.ErrInvalidCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ticketType("ga", 10)
			tt.mutate(in)
			_, err := svc.SaveTicketType(context.Background(), in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSaveTicketType_ResaveKeepsCounters(t *testing.T) {
	svc, _, l := newTestService(t)
	ctx := context.Background()

	_, err := svc.SaveTicketType(ctx, ticketType("ga", 10))
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "ga", "order-1", 4)
	require.NoError(t, err)

	view, err := svc.SaveTicketType(ctx, ticketType("ga", 12))
	require.NoError(t, err)
	assert.Equal(t, 12, view.Capacity)
	assert.Equal(t, 4, view.Reserved)
	assert.Equal(t, 8, view.Available)

	_, err = svc.SaveTicketType(ctx, ticketType("ga", 3))
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)
}

func TestAdjustCapacity(t *testing.T) {
	svc, repo, l := newTestService(t)
	ctx := context.Background()

	_, err := svc.SaveTicketType(ctx, ticketType("ga", 10))
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "ga", "order-1", 5)
	require.NoError(t, err)

	_, err = svc.AdjustCapacity(ctx, "ga", 4)
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)

	view, err := svc.AdjustCapacity(ctx, "ga", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, view.Capacity)
	assert.Equal(t, 15, view.Available)

	stored, err := repo.GetTicketType(ctx, "ga")
	require.NoError(t, err)
	assert.Equal(t, 20, stored.Capacity)

	_, err = svc.AdjustCapacity(ctx, "missing", 1)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestGetEvent_DerivesCapacity(t *testing.T) {
	svc, _, l := newTestService(t)
	ctx := context.Background()

	_, err := svc.SaveTicketType(ctx, ticketType("ga", 100))
	require.NoError(t, err)
	_, err = svc.SaveTicketType(ctx, ticketType("vip", 10))
	require.NoError(t, err)

	res, err := l.Reserve(ctx, "vip", "order-1", 2)
	require.NoError(t, err)
	_, err = l.Commit(ctx, res.ID)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "ga", "order-2", 3)
	require.NoError(t, err)

	view, err := svc.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "Opening Night", view.Name)
	assert.Equal(t, 110, view.Stock.Capacity)
	assert.Equal(t, 2, view.Stock.Sold)
	assert.Equal(t, 3, view.Stock.Reserved)
	assert.Equal(t, 105, view.Stock.Available)
	require.Len(t, view.TicketTypes, 2)

	_, err = svc.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestSeed_RegistersStoredTypes(t *testing.T) {
	repo := repository.NewMemoryCatalogRepository()
	ctx := context.Background()
	require.NoError(t, repo.UpsertEvent(ctx, &domain.Event{ID: "ev-1", Name: "Show"}))
	require.NoError(t, repo.UpsertTicketType(ctx, ticketType("ga", 10)))
	require.NoError(t, repo.UpsertTicketType(ctx, ticketType("vip", 2)))

	l := ledger.New(ledger.NewMemoryStore(), &ledger.Config{Logger: logger.NewNop()})
	svc := NewService(repo, l, &Config{Logger: logger.NewNop()})

	n, err := svc.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = l.Reserve(ctx, "vip", "order-1", 2)
	require.NoError(t, err)

	// Seeding again never resets counters
	_, err = svc.Seed(ctx)
	require.NoError(t, err)
	stock, err := l.Stock(ctx, "vip")
	require.NoError(t, err)
	assert.Equal(t, 2, stock.Reserved)
	assert.Equal(t, 0, stock.Available())
}
