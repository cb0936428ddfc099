// Package store wraps the shared key-value store used by every worker and the
// beat scheduler. All mutations are single-key atomic commands.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("key not found")
	ErrNotReady          = errors.New("store did not become ready")
	ErrHealthcheckFailed = errors.New("store healthcheck failed")
)

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key string, value any, ttl time.Duration) error
	// SetNX sets key only if it does not exist. It reports whether the key was set.
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Publish(ctx context.Context, channel string, message any) (int64, error)
	LPush(ctx context.Context, key string, values ...any) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZAdd(ctx context.Context, key string, score float64, member any) error
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Ping(ctx context.Context) error
	Close() error
}

// Healthcheck returns a probe suitable for the /health endpoint.
func Healthcheck(s Store) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := s.Ping(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
