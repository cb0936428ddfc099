package results

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"harvestflow/internal/domain"
)

const DefaultTTL = 24 * time.Hour

type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func key(id uuid.UUID) string { return "result:" + id.String() }

func (r *Redis) Store(ctx context.Context, res domain.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, key(res.TaskID), data, r.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		log.Debug().Str("task_id", res.TaskID.String()).Msg("result already recorded")
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id uuid.UUID) (domain.Result, error) {
	data, err := r.rdb.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Result{}, ErrNotFound
	}
	if err != nil {
		return domain.Result{}, err
	}
	var res domain.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return domain.Result{}, err
	}
	return res, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
