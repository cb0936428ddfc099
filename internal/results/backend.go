// Package results stores one HandlerResult per envelope id. Writes are
// write-once: the first result recorded for an id wins.
package results

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"harvestflow/internal/domain"
)

var (
	ErrNotFound          = errors.New("result not found")
	ErrUnsupportedScheme = errors.New("unsupported result backend scheme")
)

type Backend interface {
	Store(ctx context.Context, r domain.Result) error
	Get(ctx context.Context, id uuid.UUID) (domain.Result, error)
	Close() error
}

// Open picks a backend from the URL scheme: redis://, rediss:// or sqlite://path.
func Open(ctx context.Context, rawURL string, ttl time.Duration) (Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse result backend url: %w", err)
	}
	switch u.Scheme {
	case "redis", "rediss":
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse result backend url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect result backend: %w", err)
		}
		return NewRedis(rdb, ttl), nil
	case "sqlite":
		path := strings.TrimPrefix(rawURL, "sqlite://")
		s, err := OpenSQLite(path, ttl)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}
