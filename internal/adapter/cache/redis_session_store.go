package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/security"
	"github.com/aq2208/gcheckout/internal/usecase"
	"github.com/redis/go-redis/v9"
)

const unresolvedIndex = "checkout:unresolved"

// RedisSessionStore keeps checkout sessions sealed at rest. Updates are
// compare-and-swap on Version under WATCH, and sessions that still need
// work are indexed by last update for the reconciler.
type RedisSessionStore struct {
	rdb    *redis.Client
	sealer security.Sealer
	ttl    time.Duration
}

func NewRedisSessionStore(rdb *redis.Client, sealer security.Sealer, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, sealer: sealer, ttl: ttl}
}

var _ usecase.SessionStore = (*RedisSessionStore)(nil)

func sessionKey(intentID string) string { return "checkout:session:" + intentID }

func (r *RedisSessionStore) Create(ctx context.Context, s *domain.CheckoutSession) error {
	cp := *s
	cp.Version = 1
	blob, err := r.seal(&cp)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, sessionKey(s.IntentID), blob, r.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("session " + s.IntentID + " already exists")
	}
	if err := r.index(ctx, r.rdb, &cp); err != nil {
		return err
	}
	s.Version = 1
	return nil
}

func (r *RedisSessionStore) Get(ctx context.Context, intentID string) (*domain.CheckoutSession, error) {
	blob, err := r.rdb.Get(ctx, sessionKey(intentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound("session " + intentID)
	}
	if err != nil {
		return nil, err
	}
	return r.open(intentID, blob)
}

func (r *RedisSessionStore) Update(ctx context.Context, s *domain.CheckoutSession) error {
	key := sessionKey(s.IntentID)
	next := *s
	next.Version = s.Version + 1
	blob, err := r.seal(&next)
	if err != nil {
		return err
	}

	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return apperr.NotFound("session " + s.IntentID)
		}
		if err != nil {
			return err
		}
		stored, err := r.open(s.IntentID, cur)
		if err != nil {
			return err
		}
		if stored.Version != s.Version {
			return apperr.Conflict(fmt.Sprintf("session %s is at version %d, not %d", s.IntentID, stored.Version, s.Version))
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, blob, r.ttl)
			return r.index(ctx, p, &next)
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return apperr.Conflict("session " + s.IntentID + " changed concurrently")
	}
	if err != nil {
		return err
	}
	s.Version = next.Version
	return nil
}

// ListUnresolved returns sessions that still need work and were last touched
// before the cutoff, oldest first. Index entries whose session expired are dropped.
func (r *RedisSessionStore) ListUnresolved(ctx context.Context, before time.Time, limit int) ([]string, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, unresolvedIndex, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(before.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	exists := make([]*redis.IntCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			exists[i] = p.Exists(ctx, sessionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := ids[:0]
	var gone []any
	for i, id := range ids {
		if exists[i].Val() == 0 {
			gone = append(gone, id)
			continue
		}
		out = append(out, id)
	}
	if len(gone) > 0 {
		_ = r.rdb.ZRem(ctx, unresolvedIndex, gone...).Err()
	}
	return out, nil
}

func (r *RedisSessionStore) index(ctx context.Context, c redis.Cmdable, s *domain.CheckoutSession) error {
	if s.Unresolved() {
		return c.ZAdd(ctx, unresolvedIndex, redis.Z{Score: float64(s.UpdatedAt.UnixMilli()), Member: s.IntentID}).Err()
	}
	return c.ZRem(ctx, unresolvedIndex, s.IntentID).Err()
}

func (r *RedisSessionStore) seal(s *domain.CheckoutSession) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return r.sealer.Seal(b, []byte(s.IntentID))
}

func (r *RedisSessionStore) open(intentID string, blob []byte) (*domain.CheckoutSession, error) {
	b, err := r.sealer.Open(blob, []byte(intentID))
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", intentID, err)
	}
	var s domain.CheckoutSession
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", intentID, err)
	}
	return &s, nil
}
