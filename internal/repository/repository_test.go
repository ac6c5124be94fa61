package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backends struct {
	catalog CatalogRepository
	orders  OrderRepository
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b backends)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, backends{catalog: NewMemoryCatalogRepository(), orders: NewMemoryOrderRepository()})
	})
	t.Run("postgres", func(t *testing.T) {
		pool := testutil.PostgresPool(t, "purchase_orders", "ticket_types", "events")
		fn(t, backends{catalog: NewPostgresCatalogRepository(pool), orders: NewPostgresOrderRepository(pool)})
	})
}

func newOrder(id, buyer, key string, created time.Time) *domain.Order {
	return &domain.Order{
		ID:             id,
		BuyerID:        buyer,
		IdempotencyKey: key,
		RequestHash:    "hash-" + key,
		Lines: []domain.OrderLine{
			{TicketTypeID: "tt-ga", Quantity: 2, UnitPrice: decimal.RequireFromString("50.00")},
		},
		Subtotal:  decimal.RequireFromString("100.00"),
		Discount:  decimal.Zero,
		Total:     decimal.RequireFromString("100.00"),
		Currency:  "eur",
		Status:    domain.OrderPending,
		State:     domain.StateInitiated,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestCatalogRepository(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backends) {
		ctx := context.Background()

		err := b.catalog.UpsertTicketType(ctx, &domain.TicketType{ID: "tt-x", EventID: "missing", Label: "GA", UnitPrice: decimal.NewFromInt(1), Currency: "eur"})
		assert.ErrorIs(t, err, domain.ErrEventNotFound)

		require.NoError(t, b.catalog.UpsertEvent(ctx, &domain.Event{ID: "ev-1", Name: "Concert", Venue: "Arena", Status: "published"}))
		require.NoError(t, b.catalog.UpsertTicketType(ctx, &domain.TicketType{
			ID: "tt-ga", EventID: "ev-1", Label: "General", UnitPrice: decimal.RequireFromString("50.00"), Currency: "eur", Capacity: 100,
		}))
		require.NoError(t, b.catalog.UpsertTicketType(ctx, &domain.TicketType{
			ID: "tt-vip", EventID: "ev-1", Label: "VIP", UnitPrice: decimal.RequireFromString("120.50"), Currency: "eur", Capacity: 10,
		}))

		ev, err := b.catalog.GetEvent(ctx, "ev-1")
		require.NoError(t, err)
		assert.Equal(t, "Concert", ev.Name)

		_, err = b.catalog.GetEvent(ctx, "nope")
		assert.True(t, domain.IsNotFoundError(err))

		tt, err := b.catalog.GetTicketType(ctx, "tt-vip")
		require.NoError(t, err)
		assert.True(t, tt.UnitPrice.Equal(decimal.RequireFromString("120.50")))

		list, err := b.catalog.ListTicketTypes(ctx, "ev-1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "tt-ga", list[0].ID)

		require.NoError(t, b.catalog.UpdateCapacity(ctx, "tt-ga", 80))
		tt, err = b.catalog.GetTicketType(ctx, "tt-ga")
		require.NoError(t, err)
		assert.Equal(t, 80, tt.Capacity)

		assert.ErrorIs(t, b.catalog.UpdateCapacity(ctx, "nope", 1), domain.ErrTicketTypeNotFound)

		all, err := b.catalog.ListAllTicketTypes(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestOrderRepository(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backends) {
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Microsecond)

		for i := 0; i < 3; i++ {
			o := newOrder(fmt.Sprintf("ord-%d", i), "buyer-1", fmt.Sprintf("key-%d", i), base.Add(time.Duration(i)*time.Minute))
			require.NoError(t, b.orders.Create(ctx, o))
		}
		require.NoError(t, b.orders.Create(ctx, newOrder("ord-other", "buyer-2", "key-0", base)))

		err := b.orders.Create(ctx, newOrder("ord-dup", "buyer-1", "key-0", base))
		assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)

		got, err := b.orders.GetByIdempotencyKey(ctx, "buyer-1", "key-1")
		require.NoError(t, err)
		assert.Equal(t, "ord-1", got.ID)
		assert.Equal(t, "hash-key-1", got.RequestHash)
		require.Len(t, got.Lines, 1)
		assert.True(t, got.Lines[0].UnitPrice.Equal(decimal.RequireFromString("50")))

		got.Status = domain.OrderPaid
		got.State = domain.StateCommitted
		got.PaymentReference = "sim_txn_1"
		got.Lines[0].ReservationID = "res-1"
		require.NoError(t, b.orders.Update(ctx, got))

		reread, err := b.orders.GetByID(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, domain.OrderPaid, reread.Status)
		assert.Equal(t, domain.StateCommitted, reread.State)
		assert.Equal(t, "res-1", reread.Lines[0].ReservationID)

		list, err := b.orders.ListByBuyer(ctx, "buyer-1", 2, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "ord-2", list[0].ID)

		list, err = b.orders.ListByBuyer(ctx, "buyer-1", 2, 2)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "ord-0", list[0].ID)

		_, err = b.orders.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
		assert.ErrorIs(t, b.orders.Update(ctx, newOrder("missing", "b", "k", base)), domain.ErrOrderNotFound)
	})
}
