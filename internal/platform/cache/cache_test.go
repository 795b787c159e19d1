package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisCache_GetSetDelete(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	c := NewRedisCache(client)
	ctx := context.Background()

	_, hit, err := c.Get(ctx, "enrolled:u1:c1")
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, c.Set(ctx, "enrolled:u1:c1", []byte("1"), time.Minute))
	v, hit, err := c.Get(ctx, "enrolled:u1:c1")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, c.Delete(ctx, "enrolled:u1:c1", "enrollments:u1"))
	_, hit, err = c.Get(ctx, "enrolled:u1:c1")
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)
	_, hit, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, c.Delete(ctx))
}

func TestRedisCache_Incr(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	c := NewRedisCache(client)
	ctx := context.Background()

	n, err := c.Incr(ctx, "gen:u1", time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = c.Incr(ctx, "gen:u1", time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, time.Hour, mr.TTL("gen:u1"))

	v, hit, err := c.Get(ctx, "gen:u1")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("2"), v)
}

func TestRedisCache_ErrorsSurface(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	c := NewRedisCache(client)
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)
}

func TestNew_FallsBackToNop(t *testing.T) {
	c := New(nil)
	require.IsType(t, Nop{}, c)
	_, hit, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, hit)
}
