package cache_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-cart/internal/cache"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisLocalRoundTrip(t *testing.T) {
	client, mr := setupRedis(t)
	local := cache.NewRedis(client, time.Hour)
	ctx := context.Background()

	_, ok, err := local.Get(ctx, cache.GuestCartKey("tok"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, local.Set(ctx, cache.GuestCartKey("tok"), `[{"productId":"milk"}]`))
	v, ok, err := local.Get(ctx, cache.GuestCartKey("tok"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `[{"productId":"milk"}]`, v)
	require.Equal(t, time.Hour, mr.TTL("cart:guest:tok"))

	require.NoError(t, local.Delete(ctx, cache.GuestCartKey("tok")))
	_, ok, err = local.Get(ctx, cache.GuestCartKey("tok"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisLocalSurfacesOutage(t *testing.T) {
	client, mr := setupRedis(t)
	local := cache.NewRedis(client, time.Hour)
	mr.Close()

	err := local.Set(context.Background(), "k", "v")
	require.Error(t, err)
}

func TestMemoryLocal(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, cache.PendingCartKey("u1"), "x"))
	v, ok, _ := m.Get(ctx, "cart:pending:u1")
	require.True(t, ok)
	require.Equal(t, "x", v)
	require.NoError(t, m.Delete(ctx, "cart:pending:u1"))
	_, ok, _ = m.Get(ctx, "cart:pending:u1")
	require.False(t, ok)
}

func TestJSONCache(t *testing.T) {
	client, _ := setupRedis(t)
	c := cache.NewJSON(client, time.Minute)
	ctx := context.Background()

	type product struct {
		Name string `json:"name"`
	}
	var dst product
	found, err := c.Get(ctx, "product:1", &dst)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.Set(ctx, "product:1", product{Name: "Milk"}))
	found, err = c.Get(ctx, "product:1", &dst)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Milk", dst.Name)

	var disabled *cache.JSON
	found, err = disabled.Get(ctx, "product:1", &dst)
	require.NoError(t, err)
	require.False(t, found)
}
