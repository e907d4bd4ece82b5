// Redis-backed CounterStore.
//
// Every method maps to native Redis atomics (INCRBY, SETNX, ZADD,
// ZREMRANGEBYSCORE, ZCARD); multi-step operations ride a single pipeline
// so there is one network round trip per call. Store errors are wrapped
// in ErrUnavailable so callers can fail closed without inspecting
// driver-specific error types.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements CounterStore on a go-redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient connects a go-redis client from either a redis:// URL or
// a bare host:port address.
func NewRedisClient(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// IncrBy atomically increments key by delta and pins its expiry to
// expireAt in one pipeline.
func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64, expireAt time.Time) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.IncrBy(ctx, key, delta)
		p.ExpireAt(ctx, key, expireAt)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: incrby %s: %v", ErrUnavailable, key, err)
	}
	return incr.Val(), nil
}

// GetCounters reads all keys with a single MGET; nil replies read as zero.
func (s *RedisStore) GetCounters(ctx context.Context, keys []string) ([]Counter, error) {
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: mget: %v", ErrUnavailable, err)
	}
	out := make([]Counter, len(keys))
	for i, key := range keys {
		out[i] = Counter{Key: key}
		if raw, ok := vals[i].(string); ok {
			if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
				out[i].Value = n
			}
		}
	}
	return out, nil
}

// SetMarker is a plain SET NX EX; true means the marker was newly set.
func (s *RedisStore) SetMarker(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrUnavailable, key, err)
	}
	return ok, nil
}

// WindowCount prunes entries outside [now-window, now] and counts the
// remainder, pipelined into one round trip.
func (s *RedisStore) WindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	cutoff := now.Add(-window).UnixNano()
	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
		card = p.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: window count %s: %v", ErrUnavailable, key, err)
	}
	return card.Val(), nil
}

// WindowAdd records an accepted request. Members carry a random suffix so
// two accepts in the same nanosecond do not collapse into one entry.
func (s *RedisStore) WindowAdd(ctx context.Context, key string, now time.Time, window time.Duration) error {
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
		p.Expire(ctx, key, window+time.Minute)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: window add %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}
