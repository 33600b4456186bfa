package cache

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/config"
)

// CacheManager provides access to all redis-backed services over one client
type CacheManager struct {
	Cache       Cache
	RateLimiter RateLimiter
	Rates       *RateCache
	Retries     *RetryQueue
	client      *redis.Client
	logger      *zap.Logger
}

// NewCacheManager connects to redis and builds the cache services
func NewCacheManager(cfg *config.Config, logger *zap.Logger) (*CacheManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client, err := NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, err
	}

	logger.Info("cache manager initialized",
		zap.String("addr", cfg.Redis.URL),
		zap.Int("db", cfg.Redis.DB),
		zap.Int("pool_size", cfg.Redis.PoolSize))

	return newCacheManager(client, cfg.Currency.CacheTTL, logger), nil
}

func newCacheManager(client *redis.Client, rateTTL time.Duration, logger *zap.Logger) *CacheManager {
	c := NewRedisCache(client, logger)
	return &CacheManager{
		Cache:       c,
		RateLimiter: NewRedisRateLimiter(client, logger),
		Rates:       NewRateCache(c, rateTTL, logger),
		Retries:     NewRetryQueue(client, RetryQueueKey, logger),
		client:      client,
		logger:      logger,
	}
}

// Client exposes the underlying client for health checks
func (m *CacheManager) Client() *redis.Client {
	return m.client
}

// Close releases the shared client
func (m *CacheManager) Close() error {
	return m.Cache.Close()
}
