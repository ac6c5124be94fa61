package purchase

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	pkgredis "github.com/prohmpiriya/ticket-engine/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idempotencyStores(t *testing.T) map[string]IdempotencyStore {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]IdempotencyStore{
		"memory": NewMemoryIdempotencyStore(),
		"redis":  NewRedisIdempotencyStore(pkgredis.Wrap(rdb)),
	}
}

func TestIdempotencyStore_ClaimCompleteRelease(t *testing.T) {
	for name, store := range idempotencyStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := &IdempotencyRecord{Key: scopedKey("buyer-1", "k1"), Status: StatusProcessing, RequestHash: "h1", CreatedAt: time.Now()}

			got, claimed, err := store.Claim(ctx, rec, time.Minute)
			require.NoError(t, err)
			assert.True(t, claimed)
			assert.Equal(t, "h1", got.RequestHash)

			other := &IdempotencyRecord{Key: rec.Key, Status: StatusProcessing, RequestHash: "h2", CreatedAt: time.Now()}
			existing, claimed, err := store.Claim(ctx, other, time.Minute)
			require.NoError(t, err)
			assert.False(t, claimed)
			assert.Equal(t, StatusProcessing, existing.Status)
			assert.Equal(t, "h1", existing.RequestHash)

			done := time.Now()
			rec.Status = StatusCompleted
			rec.OrderID = "order-1"
			rec.CompletedAt = &done
			require.NoError(t, store.Complete(ctx, rec, time.Hour))

			existing, claimed, err = store.Claim(ctx, other, time.Minute)
			require.NoError(t, err)
			assert.False(t, claimed)
			assert.Equal(t, StatusCompleted, existing.Status)
			assert.Equal(t, "order-1", existing.OrderID)

			require.NoError(t, store.Release(ctx, rec.Key))
			_, claimed, err = store.Claim(ctx, other, time.Minute)
			require.NoError(t, err)
			assert.True(t, claimed)
		})
	}
}

func TestMemoryIdempotencyStore_Expiry(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	c := &clock{now: time.Now()}
	store.now = c.Now
	ctx := context.Background()

	rec := &IdempotencyRecord{Key: "b:k", Status: StatusProcessing, RequestHash: "h"}
	_, claimed, err := store.Claim(ctx, rec, time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	c.Advance(2 * time.Minute)
	_, claimed, err = store.Claim(ctx, rec, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "expired processing claims can be taken over")
}

func TestRedisIdempotencyStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewRedisIdempotencyStore(pkgredis.Wrap(rdb))
	ctx := context.Background()

	rec := &IdempotencyRecord{Key: "b:k", Status: StatusProcessing, RequestHash: "h"}
	_, claimed, err := store.Claim(ctx, rec, 30*time.Second)
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, 30*time.Second, mr.TTL(IdempotencyKeyPrefix+"b:k"))

	mr.FastForward(31 * time.Second)
	_, claimed, err = store.Claim(ctx, rec, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, claimed)
}
