package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// slidingWindow trims the window, counts what is left and records the new
// attempt only when it fits. Returns the count before the attempt and 1 when
// the attempt was recorded.
//
// KEYS[1] attempts key
// ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] limit, ARGV[4] member
var slidingWindow = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= limit then
  return {count, 0}
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window + 60000)
return {count, 1}
`)

// redisRateLimiter counts attempts per key in a sorted set scored by attempt
// time. Rejected attempts are not recorded, so a bidder hammering the limit
// does not extend their own lockout.
type redisRateLimiter struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
	seq    atomic.Uint64
}

// NewRedisRateLimiter creates a sliding window limiter on client
func NewRedisRateLimiter(client *redis.Client, logger *zap.Logger) RateLimiter {
	return &redisRateLimiter{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func (r *redisRateLimiter) key(key string) string {
	return RateLimitPrefix + key
}

// Allow records an attempt for key and reports whether it is within limit
// attempts per window
func (r *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	now := r.now()
	member := strconv.FormatInt(now.UnixNano(), 36) + "-" + strconv.FormatUint(r.seq.Add(1), 36)

	res, err := slidingWindow.Run(ctx, r.client, []string{r.key(key)},
		now.UnixMilli(), window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		r.logger.Error("attempt window update failed",
			zap.String("key", key),
			zap.Error(err))
		return false, fmt.Errorf("rate limiter: %w", err)
	}

	allowed := res[1] == 1
	if !allowed {
		r.logger.Debug("attempt limit reached",
			zap.String("key", key),
			zap.Int64("attempts", res[0]),
			zap.Int("limit", limit),
			zap.Duration("window", window))
	}
	return allowed, nil
}

// Count returns the attempts recorded for key inside the window
func (r *redisRateLimiter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	from := strconv.FormatInt(r.now().Add(-window).UnixMilli(), 10)
	n, err := r.client.ZCount(ctx, r.key(key), "("+from, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("rate limiter count: %w", err)
	}
	return int(n), nil
}

// Reset forgets every attempt recorded for key
func (r *redisRateLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("rate limiter reset: %w", err)
	}
	return nil
}

// Remaining returns how many more attempts key may make in the window
func (r *redisRateLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	count, err := r.Count(ctx, key, window)
	if err != nil {
		return 0, err
	}
	return max(limit-count, 0), nil
}
