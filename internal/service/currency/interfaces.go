package currency

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domaincurrency "github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

// Service converts amounts between marketplace currencies
type Service interface {
	// Convert converts amount from one currency to another. It never fails
	// because a rate is missing; the result is tagged with its source.
	Convert(ctx context.Context, amount decimal.Decimal, from, to values.Currency) (*Conversion, error)
	// GetRate returns the rate in effect for a pair
	GetRate(ctx context.Context, from, to values.Currency) (*Rate, error)
	// Normalize converts money into every target currency
	Normalize(ctx context.Context, money values.Money, targets []values.Currency) (*Normalization, error)
	// Trend returns historical statistics of a pair over window
	Trend(ctx context.Context, from, to values.Currency, window time.Duration) (*domaincurrency.TrendStats, error)
	// Invalidate drops cached rates for a pair, in both directions
	Invalidate(ctx context.Context, from, to values.Currency) error
}

// RateRepository reads the rate table
type RateRepository interface {
	GetLatestActive(ctx context.Context, from, to values.Currency) (*domaincurrency.ExchangeRate, error)
	History(ctx context.Context, from, to values.Currency, since time.Time) ([]*domaincurrency.ExchangeRate, error)
}

// RateCache keeps recently read live rates
type RateCache interface {
	Get(ctx context.Context, from, to values.Currency) (*domaincurrency.ExchangeRate, bool)
	Set(ctx context.Context, rate *domaincurrency.ExchangeRate) error
	Invalidate(ctx context.Context, from, to values.Currency) error
}

// Rate is a resolved exchange rate
type Rate struct {
	From        values.Currency           `json:"from"`
	To          values.Currency           `json:"to"`
	Value       decimal.Decimal           `json:"value"`
	Source      domaincurrency.RateSource `json:"source"`
	LastUpdated time.Time                 `json:"last_updated"`
}

// IsFallback reports whether the rate is the hardcoded default
func (r *Rate) IsFallback() bool {
	return r.Source == domaincurrency.SourceFallback
}

// Conversion is the result of Convert
type Conversion struct {
	Amount decimal.Decimal           `json:"amount"`
	Rate   decimal.Decimal           `json:"rate"`
	Source domaincurrency.RateSource `json:"source"`
}

// Normalization is money expressed in several currencies.
// RateUsed is the rate into the first target the money was not already in;
// Source is the weakest source among all conversions.
type Normalization struct {
	Amounts  map[values.Currency]decimal.Decimal `json:"amounts"`
	RateUsed decimal.Decimal                     `json:"rate_used"`
	Source   domaincurrency.RateSource           `json:"source"`
}
