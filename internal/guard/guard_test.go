package guard_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvestflow/internal/guard"
	"harvestflow/internal/store"
)

func newGuard(t *testing.T) (*guard.Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := store.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return guard.New(s), mr
}

func TestTryAcquire_ExpiryReleases(t *testing.T) {
	t.Parallel()
	g, mr := newGuard(t)
	ctx := context.Background()

	ok, err := g.TryAcquire(ctx, "reorder_triggered", "P1", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.TryAcquire(ctx, "reorder_triggered", "P1", 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.TryAcquire(ctx, "reorder_triggered", "P2", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "other subjects are independent")

	v, err := mr.Get("reorder_triggered:P1")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	mr.FastForward(24*time.Hour + time.Second)
	ok, err = g.TryAcquire(ctx, "reorder_triggered", "P1", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryAcquire_MutualExclusion(t *testing.T) {
	t.Parallel()
	g, _ := newGuard(t)

	const callers = 32
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := g.TryAcquire(context.Background(), "reorder_triggered", "P9", time.Minute)
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, winners.Load())
}

func TestTryAcquire_InvalidTTL(t *testing.T) {
	t.Parallel()
	g, _ := newGuard(t)

	_, err := g.TryAcquire(context.Background(), "s", "x", 0)
	assert.ErrorIs(t, err, guard.ErrInvalidTTL)
}
