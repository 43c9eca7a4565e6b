package httpx

import (
	"context"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// redisRateLimiter shares fixed-window counters across instances through
// Redis INCR with a per-window expiry. When the store is unreachable, the
// failOpen flag decides whether traffic passes or stops.
type redisRateLimiter struct {
	client   *redis.Client
	logger   *slog.Logger
	prefix   string
	timeout  time.Duration
	failOpen bool
}

// NewRedisRateLimiter constructs a Redis backed rate limiter.
func NewRedisRateLimiter(addr, password string, db int, failOpen bool, logger *slog.Logger) (RateLimiter, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisRateLimiter{
		client:   client,
		logger:   logger,
		prefix:   "pulseboard:ratelimit:",
		timeout:  250 * time.Millisecond,
		failOpen: failOpen,
	}, nil
}

func (rl *redisRateLimiter) Check(tier Tier, identifier string) Decision {
	policy := policyFor(tier)
	if policy.limit <= 0 {
		return Decision{Allowed: true}
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	redisKey := rl.prefix + string(tier) + ":" + identifier
	counter, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.logRedisError("incr", err)
		return rl.degraded(policy)
	}
	if counter == 1 {
		if err := rl.client.Expire(ctx, redisKey, policy.window).Err(); err != nil {
			rl.logRedisError("expire", err)
		}
	}
	ttl, err := rl.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = policy.window
	}
	remaining := policy.limit - int(counter)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:    int(counter) <= policy.limit,
		Remaining:  remaining,
		RetryAfter: ttl,
	}
}

// degraded resolves a check that could not reach Redis. Fail-open keeps the
// service usable during a Redis outage; fail-closed favors abuse protection
// over availability.
func (rl *redisRateLimiter) degraded(policy tierPolicy) Decision {
	if rl.failOpen {
		return Decision{Allowed: true, Remaining: policy.limit, RetryAfter: policy.window}
	}
	return Decision{Allowed: false, RetryAfter: policy.window}
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

func (rl *redisRateLimiter) logRedisError(op string, err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.Error("redis rate limiter error", "op", op, "error", err)
}
