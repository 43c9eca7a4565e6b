package cache

import (
	"context"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pulseboard:cache:"

type redisStore struct {
	client   *redis.Client
	logger   *slog.Logger
	failOpen bool
	timeout  time.Duration
}

// NewRedisStore constructs a Redis backed cache store. With failOpen enabled,
// backing-store errors degrade every read to a miss instead of failing the
// request.
func NewRedisStore(addr, password string, db int, failOpen bool, logger *slog.Logger) (Store, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisStore{
		client:   client,
		logger:   logger,
		failOpen: failOpen,
		timeout:  500 * time.Millisecond,
	}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, err := s.client.Get(opCtx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.degrade("get", key, err)
	}
	return value, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(opCtx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		return s.degrade("set", key, err)
	}
	return nil
}

// Invalidate removes an exact key or, with a trailing wildcard, every key in
// the matched bucket. SCAN keeps invalidation incremental under load.
func (s *redisStore) Invalidate(ctx context.Context, keyOrPattern string) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, 4*s.timeout)
	defer cancel()

	if !containsWildcard(keyOrPattern) {
		deleted, err := s.client.Del(opCtx, redisKeyPrefix+keyOrPattern).Result()
		if err != nil {
			return 0, s.degrade("del", keyOrPattern, err)
		}
		return int(deleted), nil
	}

	var removed int
	iter := s.client.Scan(opCtx, 0, redisKeyPrefix+keyOrPattern, 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(opCtx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			n, err := s.deleteBatch(opCtx, batch)
			removed += n
			if err != nil {
				return removed, s.degrade("del", keyOrPattern, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, s.degrade("scan", keyOrPattern, err)
	}
	if len(batch) > 0 {
		n, err := s.deleteBatch(opCtx, batch)
		removed += n
		if err != nil {
			return removed, s.degrade("del", keyOrPattern, err)
		}
	}
	return removed, nil
}

func (s *redisStore) deleteBatch(ctx context.Context, keys []string) (int, error) {
	deleted, err := s.client.Del(ctx, keys...).Result()
	return int(deleted), err
}

// Ping reports whether the backing Redis instance is reachable.
func (s *redisStore) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(opCtx).Err()
}

func (s *redisStore) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

// degrade applies the fail-open policy: log and swallow the error so callers
// observe a miss, or propagate it when strict behavior is configured.
func (s *redisStore) degrade(op, key string, err error) error {
	if s.logger != nil {
		s.logger.Warn("cache store error", "op", op, "key", key, "fail_open", s.failOpen, "error", err)
	}
	if s.failOpen {
		return nil
	}
	return err
}

func containsWildcard(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '*' {
			return true
		}
	}
	return false
}
