package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Addr          string
	Password      string
	DB            int
	RetryAttempts int
	RetryInterval time.Duration
}

// Redis implements Store on top of go-redis.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

// Connect opens a client for one logical database and waits until it answers PING.
func Connect(ctx context.Context, cfg Config) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := waitReady(ctx, rdb, cfg.RetryAttempts, cfg.RetryInterval); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s db %d: %w", cfg.Addr, cfg.DB, err)
	}
	return NewRedis(rdb), nil
}

func waitReady(ctx context.Context, rdb *redis.Client, attempts int, interval time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("redis not ready")
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(ErrNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}
	return errors.Join(ErrNotReady, err)
}

func (r *Redis) Client() *redis.Client { return r.rdb }

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *Redis) SetEx(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *Redis) Publish(ctx context.Context, channel string, message any) (int64, error) {
	return r.rdb.Publish(ctx, channel, message).Result()
}

func (r *Redis) LPush(ctx context.Context, key string, values ...any) (int64, error) {
	return r.rdb.LPush(ctx, key, values...).Result()
}

func (r *Redis) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.rdb.LTrim(ctx, key, start, stop).Err()
}

func (r *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.rdb.LRange(ctx, key, start, stop).Result()
}

func (r *Redis) ZAdd(ctx context.Context, key string, score float64, member any) error {
	return r.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (r *Redis) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error) {
	return r.rdb.ZRemRangeByRank(ctx, key, start, stop).Result()
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.rdb.Expire(ctx, key, ttl).Err()
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.rdb.Keys(ctx, pattern).Result()
}

// TTL returns the remaining lifetime of key. Missing keys yield ErrNotFound;
// keys without expiry yield a negative duration.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d == -2 || d == -2*time.Second {
		return 0, ErrNotFound
	}
	return d, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.rdb.Close() }
