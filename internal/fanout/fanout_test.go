package fanout_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvestflow/internal/fanout"
	"harvestflow/internal/store"
)

func TestPublish_NoSubscribers(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	s := store.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })

	n := fanout.New(s).Publish(context.Background(), "inventory_updates", map[string]any{"product_id": "P1"})
	assert.Zero(t, n)
}

func TestPublish_DeliversToSubscriber(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	s := store.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	sub := s.Client().Subscribe(ctx, "user_notifications:U1")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := fanout.New(s).Publish(ctx, "user_notifications:U1", map[string]string{"title": "hi"})
	assert.EqualValues(t, 1, n)

	select {
	case msg := <-sub.Channel():
		assert.JSONEq(t, `{"title":"hi"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestPublishWithHistory_Bounded(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	s := store.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	n := fanout.New(s)

	h := fanout.History{MaxLen: 3, TTL: time.Hour}
	for i := 0; i < 5; i++ {
		n.PublishWithHistory(ctx, "user_notifications:U1", "user:U1:notifications", map[string]int{"seq": i}, h)
	}

	items, err := n.History(ctx, "user:U1:notifications", 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.JSONEq(t, `{"seq":4}`, string(items[0]))
	assert.JSONEq(t, `{"seq":2}`, string(items[2]))
	assert.Equal(t, time.Hour, mr.TTL("user:U1:notifications"))
}
