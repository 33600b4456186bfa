package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

// RateCache keeps live exchange rates close to the conversion service.
// Fallback rates are never cached.
type RateCache struct {
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewRateCache(c Cache, ttl time.Duration, logger *zap.Logger) *RateCache {
	if ttl <= 0 {
		ttl = ExchangeRateTTL
	}
	return &RateCache{cache: c, ttl: ttl, logger: logger}
}

func rateKey(from, to values.Currency) string {
	return ExchangeRatePrefix + currency.Pair{From: from, To: to}.String()
}

// Get returns the cached rate. Misses and redis failures both report false.
func (c *RateCache) Get(ctx context.Context, from, to values.Currency) (*currency.ExchangeRate, bool) {
	var rate currency.ExchangeRate
	if err := c.cache.GetJSON(ctx, rateKey(from, to), &rate); err != nil {
		var miss ErrCacheKeyNotFound
		if !errors.As(err, &miss) {
			c.logger.Warn("exchange rate cache read failed",
				zap.String("pair", currency.Pair{From: from, To: to}.String()),
				zap.Error(err))
		}
		return nil, false
	}
	return &rate, true
}

// Set stores a rate for the configured TTL
func (c *RateCache) Set(ctx context.Context, rate *currency.ExchangeRate) error {
	return c.cache.SetJSON(ctx, rateKey(rate.From, rate.To), rate, c.ttl)
}

// Invalidate drops the cached rate for both directions of a pair
func (c *RateCache) Invalidate(ctx context.Context, from, to values.Currency) error {
	return c.cache.Delete(ctx, rateKey(from, to), rateKey(to, from))
}
