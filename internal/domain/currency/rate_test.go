package currency

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

func TestNewExchangeRate(t *testing.T) {
	r, err := NewExchangeRate(values.USD, values.COP, decimal.NewFromInt(4100), "feed")
	require.NoError(t, err)
	assert.True(t, r.IsActive)
	assert.Equal(t, "USD_COP", Pair{From: r.From, To: r.To}.String())

	_, err = NewExchangeRate(values.USD, values.USD, decimal.NewFromInt(1), "feed")
	assert.Error(t, err)

	_, err = NewExchangeRate(values.USD, values.COP, decimal.Zero, "feed")
	assert.Error(t, err)

	_, err = NewExchangeRate("XXX", values.COP, decimal.NewFromInt(1), "feed")
	assert.Error(t, err)
}

func TestFallbackRate(t *testing.T) {
	assert.Equal(t, "4000", FallbackRate(values.USD, values.COP).String())
	assert.Equal(t, "0.00025", FallbackRate(values.COP, values.USD).String())
	assert.Equal(t, "1", FallbackRate(values.EUR, values.USD).String())
	assert.Equal(t, "1", FallbackRate(values.COP, values.COP).String())
}

func TestRateSource_Weaker(t *testing.T) {
	assert.Equal(t, SourceFallback, SourceLive.Weaker(SourceFallback))
	assert.Equal(t, SourceLive, SourceIdentity.Weaker(SourceLive))
	assert.Equal(t, SourceIdentity, SourceIdentity.Weaker(SourceIdentity))
}

func TestComputeTrend(t *testing.T) {
	pair := Pair{From: values.USD, To: values.COP}
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	row := func(rate string, offset time.Duration) *ExchangeRate {
		return &ExchangeRate{From: values.USD, To: values.COP, Rate: decimal.RequireFromString(rate), LastUpdated: base.Add(offset)}
	}

	t.Run("upward trend with unsorted rows", func(t *testing.T) {
		stats := ComputeTrend(pair, 24*time.Hour, []*ExchangeRate{
			row("4200", 2*time.Hour),
			row("4000", 0),
			row("4100", time.Hour),
		})

		assert.Equal(t, 3, stats.Samples)
		assert.Equal(t, "4200", stats.Current.String())
		assert.Equal(t, "4100", stats.Average.String())
		assert.Equal(t, "4000", stats.Min.String())
		assert.Equal(t, "4200", stats.Max.String())
		assert.Equal(t, "5", stats.ChangePercent.String())
		assert.Equal(t, TrendUp, stats.Direction)
		assert.Equal(t, SourceLive, stats.CurrentSource)
	})

	t.Run("small move is flat", func(t *testing.T) {
		stats := ComputeTrend(pair, time.Hour, []*ExchangeRate{row("4000", 0), row("4010", time.Minute)})
		assert.Equal(t, TrendFlat, stats.Direction)
	})

	t.Run("downward trend", func(t *testing.T) {
		stats := ComputeTrend(pair, time.Hour, []*ExchangeRate{row("4000", 0), row("3800", time.Minute)})
		assert.Equal(t, TrendDown, stats.Direction)
		assert.Equal(t, "-5", stats.ChangePercent.String())
	})

	t.Run("no history", func(t *testing.T) {
		stats := ComputeTrend(pair, time.Hour, nil)
		assert.Equal(t, 0, stats.Samples)
		assert.Equal(t, TrendFlat, stats.Direction)
	})
}
