package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"harvestflow/internal/domain"
)

// Redis is a list-backed queue: producers LPUSH, consumers BRPOP, so a single
// producer sees FIFO delivery.
type Redis struct {
	rdb         *redis.Client
	queue       string
	pollTimeout time.Duration
}

func NewRedis(rdb *redis.Client, queue string) *Redis {
	return &Redis{rdb: rdb, queue: queue, pollTimeout: time.Second}
}

func (r *Redis) Enqueue(ctx context.Context, env domain.Envelope) error {
	data, err := domain.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if err := r.rdb.LPush(ctx, r.queue, data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", env.Name, err)
	}
	return nil
}

func (r *Redis) Dequeue(ctx context.Context) (domain.Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Envelope{}, err
		}
		// BRPOP is bounded so cancellation is noticed between polls.
		res, err := r.rdb.BRPop(ctx, r.pollTimeout, r.queue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return domain.Envelope{}, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return domain.Envelope{}, ErrClosed
			}
			return domain.Envelope{}, fmt.Errorf("dequeue: %w", err)
		}

		env, err := domain.DecodeEnvelope([]byte(res[1]))
		if err != nil {
			log.Warn().Err(err).Str("queue", r.queue).Msg("dropping undecodable envelope")
			if perr := r.rdb.LPush(ctx, r.deadQueue(), res[1]).Err(); perr != nil {
				log.Error().Err(perr).Msg("failed to park undecodable envelope")
			}
			continue
		}
		return env, nil
	}
}

func (r *Redis) Len(ctx context.Context) (int64, error) {
	return r.rdb.LLen(ctx, r.queue).Result()
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) deadQueue() string { return r.queue + ":dead" }
