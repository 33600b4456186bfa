package pricing_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/bid"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/pricing"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

var settlement = []values.Currency{values.USD, values.COP}

func newBid(t *testing.T, jobID uuid.UUID, usd int64) *bid.Bid {
	t.Helper()
	amount := values.MustNewMoney(decimal.NewFromInt(usd), values.USD)
	b, err := bid.NewBid(jobID, uuid.New(), amount, map[values.Currency]decimal.Decimal{
		values.USD: amount.Amount(),
		values.COP: amount.Amount().Mul(decimal.NewFromInt(4000)),
	}, decimal.NewFromInt(4000), currency.SourceLive, bid.Terms{})
	require.NoError(t, err)
	return b
}

func TestCompute_SupersessionScenario(t *testing.T) {
	jobID := uuid.New()
	x := newBid(t, jobID, 100)
	require.NoError(t, x.MarkOutbid())
	y := newBid(t, jobID, 150)
	y.IsCurrentHighest = true
	z := newBid(t, jobID, 120)

	rec, ok := pricing.Compute(pricing.Input{
		JobOfferID:   jobID,
		Bids:         []*bid.Bid{x, y, z},
		Currencies:   settlement,
		DefaultScore: pricing.DefaultQualityScore,
	})
	require.True(t, ok)

	assert.Equal(t, jobID, rec.JobOfferID)
	assert.Equal(t, 3, rec.TotalBids)
	assert.Equal(t, "123.33", rec.AverageBid[values.USD].String())
	assert.Equal(t, "150", rec.HighestBid[values.USD].String())
	assert.Equal(t, "100", rec.LowestBid[values.USD].String())
	assert.Equal(t, "493333", rec.AverageBid[values.COP].String())
	assert.Equal(t, "600000", rec.HighestBid[values.COP].String())
	assert.Equal(t, "400000", rec.LowestBid[values.COP].String())
	assert.Equal(t, "123", rec.RecommendedBudget[values.USD].String())
	assert.Equal(t, "493333", rec.RecommendedBudget[values.COP].String())
	assert.Equal(t, pricing.DefaultQualityScore, rec.QualityScore)
	assert.Equal(t, pricing.TrendHigh, rec.MarketTrend)
}

func TestCompute_IgnoresDecidedBids(t *testing.T) {
	jobID := uuid.New()
	kept := newBid(t, jobID, 100)
	withdrawn := newBid(t, jobID, 900)
	require.NoError(t, withdrawn.Withdraw())
	rejected := newBid(t, jobID, 5)
	require.NoError(t, rejected.Reject())

	rec, ok := pricing.Compute(pricing.Input{
		JobOfferID:   jobID,
		Bids:         []*bid.Bid{kept, withdrawn, rejected},
		Currencies:   settlement,
		DefaultScore: pricing.DefaultQualityScore,
	})
	require.True(t, ok)
	assert.Equal(t, 1, rec.TotalBids)
	assert.Equal(t, "100", rec.AverageBid[values.USD].String())
	assert.Equal(t, pricing.TrendHigh, rec.MarketTrend, "single bid resolves to high")
}

func TestCompute_NoLiveBids(t *testing.T) {
	jobID := uuid.New()
	b := newBid(t, jobID, 100)
	require.NoError(t, b.Withdraw())

	rec, ok := pricing.Compute(pricing.Input{JobOfferID: jobID, Bids: []*bid.Bid{b}, Currencies: settlement})
	assert.False(t, ok)
	assert.Nil(t, rec)
}

func TestCompute_QualityMultiplier(t *testing.T) {
	jobID := uuid.New()
	bids := []*bid.Bid{newBid(t, jobID, 100), newBid(t, jobID, 140)}

	tests := []struct {
		name     string
		ratings  []float64
		wantUSD  string
		wantCOP  string
		wantQual float64
	}{
		{name: "no ratings uses default", wantUSD: "120", wantCOP: "480000", wantQual: 3.5},
		{name: "above 3.5", ratings: []float64{3.8}, wantUSD: "126", wantCOP: "504000", wantQual: 3.8},
		{name: "above 4.0", ratings: []float64{4.5, 4.0}, wantUSD: "138", wantCOP: "552000", wantQual: 4.25},
		{name: "exactly 4.0 is standard", ratings: []float64{4.0}, wantUSD: "126", wantCOP: "504000", wantQual: 4.0},
		{name: "low ratings", ratings: []float64{2, 3}, wantUSD: "120", wantCOP: "480000", wantQual: 2.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := pricing.Compute(pricing.Input{
				JobOfferID:   jobID,
				Bids:         bids,
				Ratings:      tt.ratings,
				Currencies:   settlement,
				DefaultScore: pricing.DefaultQualityScore,
			})
			require.True(t, ok)
			assert.InDelta(t, tt.wantQual, rec.QualityScore, 1e-9)
			assert.Equal(t, tt.wantUSD, rec.RecommendedBudget[values.USD].String())
			assert.Equal(t, tt.wantCOP, rec.RecommendedBudget[values.COP].String())
		})
	}
}

func TestTrend(t *testing.T) {
	d := decimal.NewFromInt
	assert.Equal(t, pricing.TrendHigh, pricing.Trend(d(90), d(100), d(80)))
	assert.Equal(t, pricing.TrendLow, pricing.Trend(d(110), d(200), d(100)))
	assert.Equal(t, pricing.TrendAverage, pricing.Trend(d(150), d(200), d(100)))
	assert.Equal(t, pricing.TrendHigh, pricing.Trend(d(50), d(50), d(50)))
}

// Adding a bid below the average never raises the recommended budget and
// adding one above the highest never lowers it, for a fixed quality score.
func TestCompute_RecommendationMonotonicity(t *testing.T) {
	jobID := uuid.New()
	base := []*bid.Bid{newBid(t, jobID, 100), newBid(t, jobID, 150), newBid(t, jobID, 120)}
	compute := func(bids []*bid.Bid) decimal.Decimal {
		rec, ok := pricing.Compute(pricing.Input{
			JobOfferID:   jobID,
			Bids:         bids,
			Ratings:      []float64{4.2},
			Currencies:   settlement,
			DefaultScore: pricing.DefaultQualityScore,
		})
		require.True(t, ok)
		return rec.RecommendedBudget[values.USD]
	}
	before := compute(base)

	for _, amount := range []int64{1, 50, 99, 123} {
		after := compute(append(append([]*bid.Bid{}, base...), newBid(t, jobID, amount)))
		assert.True(t, after.LessThanOrEqual(before), "bid %d raised %s to %s", amount, before, after)
	}
	for _, amount := range []int64{151, 200, 10000} {
		after := compute(append(append([]*bid.Bid{}, base...), newBid(t, jobID, amount)))
		assert.True(t, after.GreaterThanOrEqual(before), "bid %d lowered %s to %s", amount, before, after)
	}
}

func TestRecommendation_Clone(t *testing.T) {
	rec := &pricing.Recommendation{
		AverageBid: map[values.Currency]decimal.Decimal{values.USD: decimal.NewFromInt(10)},
		UpdatedAt:  time.Now(),
	}
	c := rec.Clone()
	c.AverageBid[values.USD] = decimal.NewFromInt(99)
	assert.Equal(t, "10", rec.AverageBid[values.USD].String())
}
