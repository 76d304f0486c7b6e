package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares the sliding window across gateway instances. Each
// identity is a sorted set of admission times in milliseconds; admission is
// an optimistic WATCH/MULTI/EXEC transaction so concurrent instances cannot
// both take the last slot.
type RedisLimiter struct {
	client redis.UniversalClient
	max    int
	window time.Duration
	prefix string
}

var _ Admitter = (*RedisLimiter)(nil)

const redisTxRetries = 5

// NewRedis returns a limiter backed by client. Zero max/window take defaults.
func NewRedis(client redis.UniversalClient, max int, window time.Duration) *RedisLimiter {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{client: client, max: max, window: window, prefix: "voiceboard:rl:"}
}

func (r *RedisLimiter) key(identity string) string {
	if identity == "" {
		identity = "anonymous"
	}
	return r.prefix + identity
}

func (r *RedisLimiter) Allow(ctx context.Context, identity string, now time.Time) (Decision, error) {
	key := r.key(identity)
	nowMs := now.UnixMilli()
	cutoff := strconv.FormatInt(now.Add(-r.window).UnixMilli(), 10)

	var dec Decision
	txf := func(tx *redis.Tx) error {
		if err := tx.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err(); err != nil {
			return err
		}
		count, err := tx.ZCard(ctx, key).Result()
		if err != nil {
			return err
		}
		if int(count) >= r.max {
			oldest, err := tx.ZRangeWithScores(ctx, key, 0, 0).Result()
			if err != nil {
				return err
			}
			dec = Decision{Allowed: false, RetryAfter: 1}
			if len(oldest) > 0 {
				dec.RetryAfter = retryAfter(time.UnixMilli(int64(oldest[0].Score)), r.window, now)
			}
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()})
			p.PExpire(ctx, key, r.window)
			return nil
		})
		if err != nil {
			return err
		}
		dec = Decision{Allowed: true}
		return nil
	}

	for i := 0; i < redisTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return dec, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	return Decision{}, fmt.Errorf("redis rate limit: contention on %s", key)
}

// Ping verifies connectivity for readiness checks.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
