package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvestflow/internal/broker"
	"harvestflow/internal/domain"
)

func TestRedis_FIFO(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	b := broker.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "tasks")
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	first := domain.NewEnvelope("low_stock_alert", []any{"F1"}, nil)
	second := domain.NewEnvelope("send_sms", nil, map[string]any{"phone_number": "+100"})
	require.NoError(t, b.Enqueue(ctx, first))
	require.NoError(t, b.Enqueue(ctx, second))

	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, err = b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, "+100", got.Kwargs["phone_number"])
}

func TestRedis_DropsUndecodable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	b := broker.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "tasks")
	t.Cleanup(func() { _ = b.Close() })

	_, err := mr.Lpush("tasks", "not-an-envelope")
	require.NoError(t, err)
	valid := domain.NewEnvelope("send_sms", nil, nil)
	require.NoError(t, b.Enqueue(context.Background(), valid))

	got, err := b.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, valid.ID, got.ID)

	dead, err := mr.List("tasks:dead")
	require.NoError(t, err)
	assert.Equal(t, []string{"not-an-envelope"}, dead)
}

func TestRedis_DequeueHonoursCancel(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	b := broker.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "tasks")
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemory(t *testing.T) {
	t.Parallel()

	b := broker.NewMemory(1)
	ctx := context.Background()
	env := domain.NewEnvelope("send_sms", nil, nil)

	require.NoError(t, b.Enqueue(ctx, env))
	assert.ErrorIs(t, b.Enqueue(ctx, domain.NewEnvelope("x", nil, nil)), broker.ErrQueueFull)

	got, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)

	require.NoError(t, b.Close())
	_, err = b.Dequeue(ctx)
	assert.ErrorIs(t, err, broker.ErrClosed)
	assert.ErrorIs(t, b.Enqueue(ctx, env), broker.ErrClosed)
}

func TestOpen(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	b, err := broker.Open(context.Background(), "redis://"+mr.Addr()+"/0", broker.Options{Queue: "q"})
	require.NoError(t, err)
	assert.IsType(t, &broker.Redis{}, b)
	_ = b.Close()

	b, err = broker.Open(context.Background(), "memory://", broker.Options{})
	require.NoError(t, err)
	assert.IsType(t, &broker.Memory{}, b)

	_, err = broker.Open(context.Background(), "kafka://localhost", broker.Options{})
	assert.ErrorIs(t, err, broker.ErrUnsupportedScheme)
}
