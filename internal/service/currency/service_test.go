package currency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	domaincurrency "github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/cache"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/repository"
)

type mockRateRepository struct {
	mock.Mock
}

func (m *mockRateRepository) GetLatestActive(ctx context.Context, from, to values.Currency) (*domaincurrency.ExchangeRate, error) {
	args := m.Called(ctx, from, to)
	if r := args.Get(0); r != nil {
		return r.(*domaincurrency.ExchangeRate), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRateRepository) History(ctx context.Context, from, to values.Currency, since time.Time) ([]*domaincurrency.ExchangeRate, error) {
	args := m.Called(ctx, from, to, since)
	if r := args.Get(0); r != nil {
		return r.([]*domaincurrency.ExchangeRate), args.Error(1)
	}
	return nil, args.Error(1)
}

// slowRepository blocks until the lookup context is done
type slowRepository struct{}

func (slowRepository) GetLatestActive(ctx context.Context, from, to values.Currency) (*domaincurrency.ExchangeRate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowRepository) History(ctx context.Context, from, to values.Currency, since time.Time) ([]*domaincurrency.ExchangeRate, error) {
	return nil, nil
}

func saveRate(t *testing.T, rates repository.ExchangeRateRepository, from, to values.Currency, rate string) *domaincurrency.ExchangeRate {
	t.Helper()
	r, err := domaincurrency.NewExchangeRate(from, to, decimal.RequireFromString(rate), "test-feed")
	require.NoError(t, err)
	require.NoError(t, rates.Save(context.Background(), r))
	return r
}

func newObservedService(t *testing.T, rates RateRepository, rc RateCache) (Service, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	return NewService(rates, rc, nil, Config{LookupTimeout: 50 * time.Millisecond}, zap.New(core)), logs
}

func TestGetRate_SameCurrencySkipsLookup(t *testing.T) {
	repo := &mockRateRepository{}
	svc := NewService(repo, nil, nil, DefaultConfig(), zaptest.NewLogger(t))

	rate, err := svc.GetRate(context.Background(), values.USD, values.USD)
	require.NoError(t, err)
	assert.True(t, rate.Value.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, domaincurrency.SourceIdentity, rate.Source)

	conv, err := svc.Convert(context.Background(), decimal.NewFromInt(42), values.COP, values.COP)
	require.NoError(t, err)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(42)))

	repo.AssertNotCalled(t, "GetLatestActive", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetRate_LiveRow(t *testing.T) {
	storage := repository.NewMemoryStorage()
	saveRate(t, storage.ExchangeRates, values.USD, values.COP, "3900")
	svc, logs := newObservedService(t, storage.ExchangeRates, nil)

	conv, err := svc.Convert(context.Background(), decimal.NewFromInt(100), values.USD, values.COP)
	require.NoError(t, err)
	assert.True(t, conv.Amount.Equal(decimal.NewFromInt(390000)))
	assert.Equal(t, domaincurrency.SourceLive, conv.Source)
	assert.Zero(t, logs.Len())
}

func TestGetRate_UsesMostRecentActiveRow(t *testing.T) {
	storage := repository.NewMemoryStorage()
	saveRate(t, storage.ExchangeRates, values.USD, values.COP, "3900")
	saveRate(t, storage.ExchangeRates, values.USD, values.COP, "4100")
	svc := NewService(storage.ExchangeRates, nil, nil, DefaultConfig(), zaptest.NewLogger(t))

	rate, err := svc.GetRate(context.Background(), values.USD, values.COP)
	require.NoError(t, err)
	assert.Equal(t, "4100", rate.Value.String())
}

func TestGetRate_Fallback(t *testing.T) {
	tests := []struct {
		name     string
		from, to values.Currency
		want     string
	}{
		{"usd to cop", values.USD, values.COP, "4000"},
		{"cop to usd", values.COP, values.USD, "0.00025"},
		{"pair outside the table", values.EUR, values.USD, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, logs := newObservedService(t, repository.NewMemoryStorage().ExchangeRates, nil)

			conv, err := svc.Convert(context.Background(), decimal.NewFromInt(10), tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, conv.Rate.String())
			assert.Equal(t, domaincurrency.SourceFallback, conv.Source)

			warned := logs.FilterMessage("using fallback exchange rate").All()
			require.Len(t, warned, 1)
			assert.Equal(t, "missing_rate", warned[0].ContextMap()["reason"])
		})
	}
}

func TestGetRate_RepositoryErrorFallsBack(t *testing.T) {
	repo := &mockRateRepository{}
	repo.On("GetLatestActive", mock.Anything, values.USD, values.COP).
		Return(nil, assert.AnError)
	svc, logs := newObservedService(t, repo, nil)

	rate, err := svc.GetRate(context.Background(), values.USD, values.COP)
	require.NoError(t, err)
	assert.True(t, rate.IsFallback())
	assert.Equal(t, "lookup_failed", logs.All()[0].ContextMap()["reason"])
	repo.AssertExpectations(t)
}

func TestGetRate_TimeoutFallsBack(t *testing.T) {
	svc, logs := newObservedService(t, slowRepository{}, nil)

	start := time.Now()
	rate, err := svc.GetRate(context.Background(), values.USD, values.COP)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, rate.IsFallback())
	assert.Equal(t, "timeout", logs.All()[0].ContextMap()["reason"])
}

func TestGetRate_InvalidCurrency(t *testing.T) {
	svc := NewService(repository.NewMemoryStorage().ExchangeRates, nil, nil, DefaultConfig(), zaptest.NewLogger(t))

	_, err := svc.GetRate(context.Background(), values.Currency("XXX"), values.USD)
	assert.Error(t, err)
}

func TestConvert_RoundTrip(t *testing.T) {
	storage := repository.NewMemoryStorage()
	saveRate(t, storage.ExchangeRates, values.USD, values.COP, "4000")
	saveRate(t, storage.ExchangeRates, values.COP, values.USD, "0.00025")
	svc := NewService(storage.ExchangeRates, nil, nil, DefaultConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	for _, amount := range []string{"0.01", "1", "123.45", "99999.99"} {
		x := decimal.RequireFromString(amount)
		there, err := svc.Convert(ctx, x, values.USD, values.COP)
		require.NoError(t, err)
		back, err := svc.Convert(ctx, there.Amount, values.COP, values.USD)
		require.NoError(t, err)

		assert.Equal(t, domaincurrency.SourceLive, there.Source)
		assert.Equal(t, domaincurrency.SourceLive, back.Source)
		assert.True(t, back.Amount.Sub(x).Abs().LessThan(decimal.RequireFromString("0.000001")),
			"round trip of %s gave %s", amount, back.Amount)
	}
}

func TestGetRate_Cache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := zaptest.NewLogger(t)
	rc := cache.NewRateCache(cache.NewRedisCache(client, logger), time.Minute, logger)

	storage := repository.NewMemoryStorage()
	saveRate(t, storage.ExchangeRates, values.USD, values.COP, "3900")
	svc := NewService(storage.ExchangeRates, rc, nil, DefaultConfig(), logger)
	ctx := context.Background()

	rate, err := svc.GetRate(ctx, values.USD, values.COP)
	require.NoError(t, err)
	assert.Equal(t, "3900", rate.Value.String())

	// the feed writes a new rate; the cached one is served until invalidated
	saveRate(t, storage.ExchangeRates, values.USD, values.COP, "4200")
	rate, err = svc.GetRate(ctx, values.USD, values.COP)
	require.NoError(t, err)
	assert.Equal(t, "3900", rate.Value.String())

	require.NoError(t, svc.Invalidate(ctx, values.USD, values.COP))
	rate, err = svc.GetRate(ctx, values.USD, values.COP)
	require.NoError(t, err)
	assert.Equal(t, "4200", rate.Value.String())
}

func TestGetRate_FallbackIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := zaptest.NewLogger(t)
	rc := cache.NewRateCache(cache.NewRedisCache(client, logger), time.Minute, logger)

	storage := repository.NewMemoryStorage()
	svc := NewService(storage.ExchangeRates, rc, nil, DefaultConfig(), logger)
	ctx := context.Background()

	rate, err := svc.GetRate(ctx, values.USD, values.COP)
	require.NoError(t, err)
	require.True(t, rate.IsFallback())

	saveRate(t, storage.ExchangeRates, values.USD, values.COP, "3950")
	rate, err = svc.GetRate(ctx, values.USD, values.COP)
	require.NoError(t, err)
	assert.Equal(t, domaincurrency.SourceLive, rate.Source)
	assert.Equal(t, "3950", rate.Value.String())
}

func TestNormalize(t *testing.T) {
	storage := repository.NewMemoryStorage()
	saveRate(t, storage.ExchangeRates, values.COP, values.USD, "0.00025")
	svc := NewService(storage.ExchangeRates, nil, nil, DefaultConfig(), zaptest.NewLogger(t))
	targets := []values.Currency{values.USD, values.COP}

	t.Run("cop bid", func(t *testing.T) {
		n, err := svc.Normalize(context.Background(), values.MustNewMoneyFromFloat(400000, values.COP), targets)
		require.NoError(t, err)
		assert.Equal(t, "100", n.Amounts[values.USD].String())
		assert.Equal(t, "400000", n.Amounts[values.COP].String())
		assert.Equal(t, "0.00025", n.RateUsed.String())
		assert.Equal(t, domaincurrency.SourceLive, n.Source)
	})

	t.Run("usd bid without a usd to cop row", func(t *testing.T) {
		n, err := svc.Normalize(context.Background(), values.MustNewMoneyFromFloat(25.5, values.USD), targets)
		require.NoError(t, err)
		assert.Equal(t, "25.5", n.Amounts[values.USD].String())
		assert.Equal(t, "102000", n.Amounts[values.COP].String())
		assert.Equal(t, "4000", n.RateUsed.String())
		assert.Equal(t, domaincurrency.SourceFallback, n.Source)
	})

	t.Run("third currency", func(t *testing.T) {
		n, err := svc.Normalize(context.Background(), values.MustNewMoneyFromFloat(50, values.EUR), targets)
		require.NoError(t, err)
		assert.Equal(t, "50", n.Amounts[values.USD].String())
		assert.Equal(t, domaincurrency.SourceFallback, n.Source)
	})

	t.Run("no targets", func(t *testing.T) {
		_, err := svc.Normalize(context.Background(), values.MustNewMoneyFromFloat(1, values.USD), nil)
		assert.Error(t, err)
	})
}

func TestTrend(t *testing.T) {
	storage := repository.NewMemoryStorage()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, r := range []string{"3800", "3900", "4000"} {
		rate, err := domaincurrency.NewExchangeRate(values.USD, values.COP, decimal.RequireFromString(r), "test-feed")
		require.NoError(t, err)
		rate.LastUpdated = now.Add(time.Duration(i-3) * time.Hour)
		require.NoError(t, storage.ExchangeRates.Save(ctx, rate))
	}
	old, err := domaincurrency.NewExchangeRate(values.USD, values.COP, decimal.NewFromInt(1000), "test-feed")
	require.NoError(t, err)
	old.LastUpdated = now.Add(-30 * 24 * time.Hour)
	old.IsActive = false
	require.NoError(t, storage.ExchangeRates.Save(ctx, old))

	svc := NewService(storage.ExchangeRates, nil, nil, DefaultConfig(), zaptest.NewLogger(t))

	stats, err := svc.Trend(ctx, values.USD, values.COP, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Samples)
	assert.Equal(t, "4000", stats.Current.String())
	assert.Equal(t, "3800", stats.Min.String())
	assert.Equal(t, "3900", stats.Average.String())
	assert.Equal(t, domaincurrency.TrendUp, stats.Direction)

	t.Run("no history uses current rate", func(t *testing.T) {
		stats, err := svc.Trend(ctx, values.COP, values.USD, 0)
		require.NoError(t, err)
		assert.Zero(t, stats.Samples)
		assert.Equal(t, "0.00025", stats.Current.String())
		assert.Equal(t, domaincurrency.SourceFallback, stats.CurrentSource)
	})
}
