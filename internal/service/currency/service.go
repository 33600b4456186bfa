// Package currency implements the conversion service used by bidding and
// the job offer lifecycle.
package currency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	domaincurrency "github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/repository"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/handyman-marketplace-backend/internal/metrics"
)

const serviceName = "currency"

// Config holds the conversion service settings
type Config struct {
	LookupTimeout time.Duration
	TrendWindow   time.Duration
}

// DefaultConfig returns the settings used when none are supplied
func DefaultConfig() Config {
	return Config{
		LookupTimeout: 500 * time.Millisecond,
		TrendWindow:   7 * 24 * time.Hour,
	}
}

// service implements the Service interface
type service struct {
	rates   RateRepository
	cache   RateCache
	metrics *metrics.Registry
	logger  *zap.Logger
	config  Config

	now func() time.Time
}

// NewService creates a new conversion service. cache and registry may be nil.
func NewService(rates RateRepository, cache RateCache, registry *metrics.Registry, cfg Config, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	if cfg.TrendWindow <= 0 {
		cfg.TrendWindow = def.TrendWindow
	}
	return &service{
		rates:   rates,
		cache:   cache,
		metrics: registry,
		logger:  logger.Named(serviceName),
		config:  cfg,
		now:     time.Now,
	}
}

// Convert multiplies amount by the resolved rate. Amounts are not rounded.
func (s *service) Convert(ctx context.Context, amount decimal.Decimal, from, to values.Currency) (*Conversion, error) {
	rate, err := s.GetRate(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &Conversion{
		Amount: amount.Mul(rate.Value),
		Rate:   rate.Value,
		Source: rate.Source,
	}, nil
}

// GetRate resolves a pair from the cache, then the rate table, then the
// fallback table. Only invalid currencies produce an error.
func (s *service) GetRate(ctx context.Context, from, to values.Currency) (*Rate, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if from == to {
		return &Rate{
			From:        from,
			To:          to,
			Value:       decimal.NewFromInt(1),
			Source:      domaincurrency.SourceIdentity,
			LastUpdated: s.now().UTC(),
		}, nil
	}

	pair := domaincurrency.Pair{From: from, To: to}

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, from, to); ok {
			s.metrics.RecordRateLookup(ctx, pair.String(), string(domaincurrency.SourceLive))
			return liveRate(cached), nil
		}
	}

	row, err := s.lookup(ctx, from, to)
	if err != nil {
		return s.fallback(ctx, pair, err), nil
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, row); err != nil {
			s.logger.Warn("failed to cache exchange rate",
				zap.String("pair", pair.String()),
				zap.Error(err))
		}
	}

	s.metrics.RecordRateLookup(ctx, pair.String(), string(domaincurrency.SourceLive))
	return liveRate(row), nil
}

func (s *service) lookup(ctx context.Context, from, to values.Currency) (*domaincurrency.ExchangeRate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.LookupTimeout)
	defer cancel()

	row, err := s.rates.GetLatestActive(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if !row.Rate.IsPositive() {
		return nil, errors.New("stored rate is not positive")
	}
	return row, nil
}

func (s *service) fallback(ctx context.Context, pair domaincurrency.Pair, cause error) *Rate {
	value := domaincurrency.FallbackRate(pair.From, pair.To)

	reason := "lookup_failed"
	switch {
	case errors.Is(cause, repository.ErrNotFound):
		reason = "missing_rate"
	case errors.Is(cause, context.DeadlineExceeded):
		reason = "timeout"
	}

	s.logger.Warn("using fallback exchange rate",
		zap.String("pair", pair.String()),
		zap.String("rate", value.String()),
		zap.String("reason", reason),
		zap.Error(cause))
	s.metrics.RecordRateLookup(ctx, pair.String(), string(domaincurrency.SourceFallback))

	return &Rate{
		From:        pair.From,
		To:          pair.To,
		Value:       value,
		Source:      domaincurrency.SourceFallback,
		LastUpdated: s.now().UTC(),
	}
}

func liveRate(row *domaincurrency.ExchangeRate) *Rate {
	return &Rate{
		From:        row.From,
		To:          row.To,
		Value:       row.Rate,
		Source:      domaincurrency.SourceLive,
		LastUpdated: row.LastUpdated,
	}
}

// Normalize converts money into each target and rounds every amount to the
// target's minor unit.
func (s *service) Normalize(ctx context.Context, money values.Money, targets []values.Currency) (*Normalization, error) {
	if len(targets) == 0 {
		return nil, errors.New("at least one target currency is required")
	}

	n := &Normalization{
		Amounts:  make(map[values.Currency]decimal.Decimal, len(targets)),
		RateUsed: decimal.NewFromInt(1),
		Source:   domaincurrency.SourceIdentity,
	}
	rateChosen := false

	for _, target := range targets {
		if _, seen := n.Amounts[target]; seen {
			continue
		}
		conv, err := s.Convert(ctx, money.Amount(), money.Currency(), target)
		if err != nil {
			return nil, err
		}
		n.Amounts[target] = conv.Amount.Round(target.Places())
		n.Source = n.Source.Weaker(conv.Source)

		if !rateChosen && target != money.Currency() {
			n.RateUsed = conv.Rate
			rateChosen = true
		}
	}
	return n, nil
}

// Trend summarizes the rate history inside window. With no history the
// current rate comes from GetRate, possibly the fallback.
func (s *service) Trend(ctx context.Context, from, to values.Currency, window time.Duration) (*domaincurrency.TrendStats, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "Trend",
		attribute.String("pair", domaincurrency.Pair{From: from, To: to}.String()))
	defer span.End()

	if window <= 0 {
		window = s.config.TrendWindow
	}
	pair := domaincurrency.Pair{From: from, To: to}

	if from == to {
		rate, err := s.GetRate(ctx, from, to)
		if err != nil {
			telemetry.WithSpanError(span, err)
			return nil, err
		}
		stats := domaincurrency.ComputeTrend(pair, window, nil)
		stats.Current = rate.Value
		stats.CurrentSource = rate.Source
		return &stats, nil
	}

	history, err := s.rates.History(ctx, from, to, s.now().Add(-window))
	if err != nil {
		telemetry.WithSpanError(span, err)
		return nil, fmt.Errorf("reading rate history: %w", err)
	}

	stats := domaincurrency.ComputeTrend(pair, window, history)
	if stats.Samples == 0 {
		rate, err := s.GetRate(ctx, from, to)
		if err != nil {
			telemetry.WithSpanError(span, err)
			return nil, err
		}
		stats.Current = rate.Value
		stats.CurrentSource = rate.Source
	}
	return &stats, nil
}

// Invalidate drops cached rates for the pair
func (s *service) Invalidate(ctx context.Context, from, to values.Currency) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, from, to)
}
