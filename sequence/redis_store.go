package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisCounterTTL = 48 * time.Hour

// RedisStore keeps day counters in Redis. INCR is atomic on the server,
// so concurrent processes sharing the instance never see the same value.
// There is no rollback: a refused allocation leaves a gap.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	checker   IssuedChecker
}

// NewRedisStore builds a store; checker may be nil when there is no system
// of record to re-check against.
func NewRedisStore(client *redis.Client, keyPrefix string, ttl time.Duration, checker IssuedChecker) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRedisCounterTTL
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		checker:   checker,
	}
}

func (s *RedisStore) key(prefix, day string) string {
	return fmt.Sprintf("%sseq:%s:%s", s.keyPrefix, prefix, day)
}

func (s *RedisStore) InTx(ctx context.Context, fn func(ctx context.Context, tx CounterTx) error) error {
	if s.client == nil {
		return fmt.Errorf("redis client is not configured")
	}
	return fn(ctx, s)
}

func (s *RedisStore) Increment(ctx context.Context, prefix, day string) (int, error) {
	key := s.key(prefix, day)
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

// LastValue implements CounterReader.
func (s *RedisStore) LastValue(ctx context.Context, prefix, day string) (int, error) {
	if s.client == nil {
		return 0, fmt.Errorf("redis client is not configured")
	}
	value, err := s.client.Get(ctx, s.key(prefix, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *RedisStore) Exists(ctx context.Context, identifier string) (bool, error) {
	if s.checker == nil {
		return false, nil
	}
	return s.checker.ReferenceExists(ctx, identifier)
}
