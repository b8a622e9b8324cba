package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aq2208/gcheckout/internal/usecase"
	"github.com/redis/go-redis/v9"
)

// RedisCache projects final payment status views for cheap polling.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func statusKey(intentID string) string { return "order:status:" + intentID }

func (r *RedisCache) Put(ctx context.Context, v *usecase.PaymentStatusView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, statusKey(v.IntentID), b, r.ttl).Err()
}

func (r *RedisCache) Get(ctx context.Context, intentID string) (*usecase.PaymentStatusView, bool, error) {
	b, err := r.rdb.Get(ctx, statusKey(intentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v usecase.PaymentStatusView
	if err := json.Unmarshal(b, &v); err != nil {
		// a corrupt entry is a miss; the next final read overwrites it
		return nil, false, nil
	}
	return &v, true, nil
}

var _ usecase.StatusCache = (*RedisCache)(nil)
