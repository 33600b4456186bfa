package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/config"
)

func setupTestRedis(t *testing.T) (*CacheManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.Defaults()
	cfg.Redis.URL = mr.Addr()
	cfg.Currency.CacheTTL = time.Minute

	manager, err := NewCacheManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return manager, mr
}

func TestNewCacheManager(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		manager, _ := setupTestRedis(t)
		assert.NotNil(t, manager.Cache)
		assert.NotNil(t, manager.RateLimiter)
		assert.NotNil(t, manager.Rates)
		assert.NotNil(t, manager.Retries)
		assert.NotNil(t, manager.Client())
	})

	t.Run("nil logger", func(t *testing.T) {
		_, err := NewCacheManager(config.Defaults(), nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("connection failure", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Redis.URL = "localhost:1"
		cfg.Redis.DialTimeout = 100 * time.Millisecond
		_, err := NewCacheManager(cfg, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "redis connection failed")
	})
}

func TestRedisCache_BasicOperations(t *testing.T) {
	manager, mr := setupTestRedis(t)
	c := manager.Cache
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "test:key", "value", time.Hour))
	got, err := c.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	_, err = c.Get(ctx, "test:missing")
	var notFound ErrCacheKeyNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "test:missing", notFound.Key)

	require.NoError(t, c.Delete(ctx, "test:key"))
	assert.False(t, mr.Exists("test:key"))

	type payload struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.SetJSON(ctx, "test:json", payload{Name: "x"}, time.Minute))
	var out payload
	require.NoError(t, c.GetJSON(ctx, "test:json", &out))
	assert.Equal(t, "x", out.Name)
	assert.Equal(t, time.Minute, mr.TTL("test:json"))
}

func TestRateCache(t *testing.T) {
	manager, mr := setupTestRedis(t)
	ctx := context.Background()

	_, ok := manager.Rates.Get(ctx, values.USD, values.COP)
	assert.False(t, ok)

	rate, err := currency.NewExchangeRate(values.USD, values.COP, decimal.RequireFromString("4012.5"), "feed")
	require.NoError(t, err)
	require.NoError(t, manager.Rates.Set(ctx, rate))

	got, ok := manager.Rates.Get(ctx, values.USD, values.COP)
	require.True(t, ok)
	assert.Equal(t, rate.ID, got.ID)
	assert.True(t, rate.Rate.Equal(got.Rate))

	mr.FastForward(2 * time.Minute)
	_, ok = manager.Rates.Get(ctx, values.USD, values.COP)
	assert.False(t, ok, "entry expires after the configured TTL")

	require.NoError(t, manager.Rates.Set(ctx, rate))
	require.NoError(t, manager.Rates.Invalidate(ctx, values.COP, values.USD))
	_, ok = manager.Rates.Get(ctx, values.USD, values.COP)
	assert.False(t, ok, "invalidation clears both directions")
}

func TestRateCache_RedisDown(t *testing.T) {
	manager, mr := setupTestRedis(t)
	mr.Close()

	_, ok := manager.Rates.Get(context.Background(), values.USD, values.COP)
	assert.False(t, ok)
}

func TestRateLimiter(t *testing.T) {
	manager, _ := setupTestRedis(t)
	limiter := manager.RateLimiter
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "bidder:1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d", i+1)
	}

	allowed, err := limiter.Allow(ctx, "bidder:1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	count, err := limiter.Count(ctx, "bidder:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	remaining, err := limiter.Remaining(ctx, "bidder:2", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)

	require.NoError(t, limiter.Reset(ctx, "bidder:1"))
	allowed, err = limiter.Allow(ctx, "bidder:1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRetryQueue(t *testing.T) {
	manager, _ := setupTestRedis(t)
	q := manager.Retries
	ctx := context.Background()

	items, err := q.PopBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(ctx, []byte(p)))
	}
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	items, err = q.PopBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", string(items[0]))
	assert.Equal(t, "b", string(items[1]))

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
