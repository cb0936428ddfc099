// Package broker carries envelopes between producers and the worker pool.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"

	"harvestflow/internal/domain"
)

var (
	ErrClosed            = errors.New("broker closed")
	ErrQueueFull         = errors.New("queue is full")
	ErrUnsupportedScheme = errors.New("unsupported broker scheme")
)

type Broker interface {
	Enqueue(ctx context.Context, env domain.Envelope) error
	// Dequeue blocks until an envelope is available or ctx is done.
	Dequeue(ctx context.Context) (domain.Envelope, error)
	Len(ctx context.Context) (int64, error)
	Close() error
}

type Options struct {
	Queue    string
	Prefetch int
	Buffer   int
}

// Open picks an implementation from the URL scheme.
func Open(ctx context.Context, rawURL string, opts Options) (Broker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	if opts.Queue == "" {
		opts.Queue = "harvestflow"
	}

	switch u.Scheme {
	case "redis", "rediss":
		ropts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse broker url: %w", err)
		}
		rdb := redis.NewClient(ropts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect broker: %w", err)
		}
		return NewRedis(rdb, opts.Queue), nil
	case "amqp", "amqps":
		a, err := DialAMQP(rawURL, opts.Queue, opts.Prefetch)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "memory":
		return NewMemory(opts.Buffer), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}
