package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvestflow/internal/store"
)

func newStore(t *testing.T) (*store.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := store.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedis_GetSetEx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, mr := newStore(t)

	_, err := s.Get(ctx, "product_stock:P1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SetEx(ctx, "product_stock:P1", "5", 300*time.Second))
	v, err := s.Get(ctx, "product_stock:P1")
	require.NoError(t, err)
	assert.Equal(t, "5", v)

	ttl, err := s.TTL(ctx, "product_stock:P1")
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 300*time.Second)

	mr.FastForward(301 * time.Second)
	ok, err := s.Exists(ctx, "product_stock:P1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.TTL(ctx, "product_stock:P1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRedis_SetNX(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	ok, err := s.SetNX(ctx, "k", "true", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "k", "true", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Lists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, mr := newStore(t)

	for _, v := range []string{"a", "b", "c", "d"} {
		_, err := s.LPush(ctx, "history", v)
		require.NoError(t, err)
	}
	require.NoError(t, s.LTrim(ctx, "history", 0, 1))
	require.NoError(t, s.Expire(ctx, "history", time.Hour))

	got, err := s.LRange(ctx, "history", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, got)
	assert.Equal(t, time.Hour, mr.TTL("history"))
}

func TestRedis_SortedSets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, mr := newStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.ZAdd(ctx, "movement", float64(i), i))
	}
	removed, err := s.ZRemRangeByRank(ctx, "movement", 0, -4)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	members, err := mr.ZMembers("movement")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "4"}, members)
}

func TestRedis_KeysAndPublish(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.SetEx(ctx, "product_stock:A", "1", time.Minute))
	require.NoError(t, s.SetEx(ctx, "product_stock:B", "2", time.Minute))
	require.NoError(t, s.SetEx(ctx, "other", "3", time.Minute))

	keys, err := s.Keys(ctx, "product_stock:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"product_stock:A", "product_stock:B"}, keys)

	n, err := s.Publish(ctx, "inventory_updates", "{}")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHealthcheck(t *testing.T) {
	t.Parallel()
	s, mr := newStore(t)
	check := store.Healthcheck(s)

	assert.NoError(t, check(context.Background()))
	mr.Close()
	assert.ErrorIs(t, check(context.Background()), store.ErrHealthcheckFailed)
}
