package admission

import (
	"context"
	"testing"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_IssueAndRedeem(t *testing.T) {
	pool := testutil.PostgresPool(t, "tickets")
	r := NewRegistry(NewPostgresStore(pool), nil)
	ctx := context.Background()

	first := newTicket("pg-t1", "pg-tok-1")
	first.IssuedAt = time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, r.Issue(ctx, []*domain.Ticket{first, newTicket("pg-t2", "pg-tok-2")}))

	err := r.Issue(ctx, []*domain.Ticket{newTicket("pg-t3", "pg-tok-1")})
	assert.ErrorIs(t, err, domain.ErrDuplicateToken)

	got, err := r.Lookup(ctx, "pg-tok-1")
	require.NoError(t, err)
	assert.Equal(t, "pg-t1", got.ID)
	assert.True(t, got.PricePaid.Equal(first.PricePaid))

	_, err = r.Redeem(ctx, "pg-tok-1")
	require.NoError(t, err)
	_, err = r.Redeem(ctx, "pg-tok-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyRedeemed)

	byOrder, err := r.TicketsByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, byOrder, 2)
}
