// Package currency models exchange rates between marketplace currencies.
package currency

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

// RateSource tells callers how a rate was obtained
type RateSource string

const (
	// SourceIdentity is a same-currency conversion; no lookup happened.
	SourceIdentity RateSource = "identity"
	// SourceLive is an active row from the rate table.
	SourceLive RateSource = "live"
	// SourceFallback is the hardcoded default used when no live row exists.
	SourceFallback RateSource = "fallback"
)

// Weaker returns the less trustworthy of two sources
func (s RateSource) Weaker(other RateSource) RateSource {
	if s.rank() >= other.rank() {
		return s
	}
	return other
}

func (s RateSource) rank() int {
	switch s {
	case SourceFallback:
		return 2
	case SourceLive:
		return 1
	default:
		return 0
	}
}

// ExchangeRate is one row of the rate table populated by the external feed
type ExchangeRate struct {
	ID          uuid.UUID       `json:"id"`
	From        values.Currency `json:"from_currency"`
	To          values.Currency `json:"to_currency"`
	Rate        decimal.Decimal `json:"rate"`
	Source      string          `json:"source"`
	LastUpdated time.Time       `json:"last_updated"`
	IsActive    bool            `json:"is_active"`
}

// NewExchangeRate validates and builds an active rate row
func NewExchangeRate(from, to values.Currency, rate decimal.Decimal, source string) (*ExchangeRate, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if from == to {
		return nil, fmt.Errorf("exchange rate requires two different currencies")
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("exchange rate must be positive")
	}

	return &ExchangeRate{
		ID:          uuid.New(),
		From:        from,
		To:          to,
		Rate:        rate,
		Source:      source,
		LastUpdated: time.Now().UTC(),
		IsActive:    true,
	}, nil
}

// Pair identifies a directed currency pair
type Pair struct {
	From values.Currency
	To   values.Currency
}

func (p Pair) String() string {
	return string(p.From) + "_" + string(p.To)
}

// Hardcoded fallback rates. These are stale by construction; every use is
// tagged SourceFallback and logged by the conversion service.
var fallbackRates = map[Pair]decimal.Decimal{
	{From: values.USD, To: values.COP}: decimal.NewFromInt(4000),
	{From: values.COP, To: values.USD}: decimal.RequireFromString("0.00025"),
}

// FallbackRate returns the default rate for a pair. Pairs outside the
// USD/COP table degrade to parity.
func FallbackRate(from, to values.Currency) decimal.Decimal {
	if from == to {
		return decimal.NewFromInt(1)
	}
	if r, ok := fallbackRates[Pair{From: from, To: to}]; ok {
		return r
	}
	return decimal.NewFromInt(1)
}
