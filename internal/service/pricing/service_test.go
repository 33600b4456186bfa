package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/bid"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/errors"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/pricing"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/repository"
	"github.com/davidleathers/handyman-marketplace-backend/internal/testutil/fixtures"
)

type mockRatingProvider struct {
	mock.Mock
}

func (m *mockRatingProvider) GetRating(ctx context.Context, userID uuid.UUID) (*float64, error) {
	args := m.Called(ctx, userID)
	if r := args.Get(0); r != nil {
		return r.(*float64), args.Error(1)
	}
	return nil, args.Error(1)
}

type fixture struct {
	storage *repository.Storage
	offerID uuid.UUID
	bidders [3]uuid.UUID
}

// newSupersessionFixture stores X=100 (outbid), Y=150 (highest), Z=120
func newSupersessionFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	storage := repository.NewMemoryStorage()
	offer := fixtures.NewJobOfferBuilder().BuildWithRepo(t, ctx, storage.JobOffers)

	f := &fixture{storage: storage, offerID: offer.ID}
	base := time.Now().UTC().Add(-time.Minute)
	amounts := []int64{100, 150, 120}
	for i, amount := range amounts {
		b := fixtures.NewBidBuilder(offer.ID).
			WithAmount(amount, values.USD).
			WithCreatedAt(base.Add(time.Duration(i) * time.Second))
		switch i {
		case 0:
			b = b.WithStatus(bid.StatusOutbid)
		case 1:
			b = b.AsCurrentHighest()
		}
		f.bidders[i] = b.BuildWithRepo(t, ctx, storage.Bids).BidderID
	}
	return f
}

func recompute(t *testing.T, svc Service, storage *repository.Storage, offerID uuid.UUID) (*pricing.Recommendation, bool) {
	t.Helper()
	var (
		rec     *pricing.Recommendation
		changed bool
	)
	err := storage.Tx.WithinJobOffer(context.Background(), offerID, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		rec, changed, err = svc.Recompute(ctx, repos, offerID)
		return err
	})
	require.NoError(t, err)
	return rec, changed
}

func TestRecompute_SupersessionScenario(t *testing.T) {
	f := newSupersessionFixture(t)
	svc := NewService(f.storage.Recommendations, nil, nil, DefaultConfig(), zaptest.NewLogger(t))

	rec, changed := recompute(t, svc, f.storage, f.offerID)
	require.True(t, changed)

	assert.Equal(t, 3, rec.TotalBids)
	assert.Equal(t, "123.33", rec.AverageBid[values.USD].String())
	assert.Equal(t, "150", rec.HighestBid[values.USD].String())
	assert.Equal(t, "100", rec.LowestBid[values.USD].String())
	assert.Equal(t, "493333", rec.AverageBid[values.COP].String())
	assert.Equal(t, pricing.DefaultQualityScore, rec.QualityScore)
	assert.Equal(t, "123", rec.RecommendedBudget[values.USD].String())
	assert.Equal(t, pricing.TrendHigh, rec.MarketTrend)

	stored, err := svc.Get(context.Background(), f.offerID)
	require.NoError(t, err)
	assert.Equal(t, rec.AverageBid[values.USD].String(), stored.AverageBid[values.USD].String())
}

func TestRecompute_IsIdempotent(t *testing.T) {
	f := newSupersessionFixture(t)
	svc := NewService(f.storage.Recommendations, nil, nil, DefaultConfig(), zaptest.NewLogger(t))

	first, _ := recompute(t, svc, f.storage, f.offerID)
	second, _ := recompute(t, svc, f.storage, f.offerID)

	assert.Equal(t, first.AverageBid, second.AverageBid)
	assert.Equal(t, first.RecommendedBudget, second.RecommendedBudget)
	assert.Equal(t, first.MarketTrend, second.MarketTrend)
}

func TestRecompute_NoLiveBidsKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	storage := repository.NewMemoryStorage()
	offer := fixtures.NewJobOfferBuilder().BuildWithRepo(t, ctx, storage.JobOffers)
	svc := NewService(storage.Recommendations, nil, nil, DefaultConfig(), zaptest.NewLogger(t))

	_, err := svc.Get(ctx, offer.ID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	w := fixtures.NewBidBuilder(offer.ID).WithAmount(80, values.USD).BuildWithRepo(t, ctx, storage.Bids)
	prior, changed := recompute(t, svc, storage, offer.ID)
	require.True(t, changed)

	require.NoError(t, w.Withdraw())
	require.NoError(t, storage.Bids.Update(ctx, w))

	rec, changed := recompute(t, svc, storage, offer.ID)
	assert.False(t, changed)
	assert.Nil(t, rec)

	stored, err := svc.Get(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, prior.TotalBids, stored.TotalBids)
	assert.Equal(t, "80", stored.AverageBid[values.USD].String())
}

func TestRecompute_QualityScore(t *testing.T) {
	f := newSupersessionFixture(t)
	ratings := StaticRatings{
		f.bidders[0]: 4.5,
		f.bidders[1]: 4.0,
	}
	svc := NewService(f.storage.Recommendations, ratings, nil, DefaultConfig(), zaptest.NewLogger(t))

	rec, _ := recompute(t, svc, f.storage, f.offerID)
	assert.InDelta(t, 4.25, rec.QualityScore, 1e-9)
	// 123.333 * 1.15
	assert.Equal(t, "142", rec.RecommendedBudget[values.USD].String())
}

func TestRecompute_RatingFailuresCountAsUnrated(t *testing.T) {
	f := newSupersessionFixture(t)
	rated := 3.8

	ratings := &mockRatingProvider{}
	ratings.On("GetRating", mock.Anything, f.bidders[0]).Return(&rated, nil)
	ratings.On("GetRating", mock.Anything, f.bidders[1]).Return(nil, assert.AnError)
	ratings.On("GetRating", mock.Anything, f.bidders[2]).Return(nil, nil)

	svc := NewService(f.storage.Recommendations, ratings, nil, DefaultConfig(), zaptest.NewLogger(t))

	rec, _ := recompute(t, svc, f.storage, f.offerID)
	assert.InDelta(t, 3.8, rec.QualityScore, 1e-9)
	want := decimal.NewFromInt(370).Div(decimal.NewFromInt(3)).Mul(decimal.RequireFromString("1.05")).Round(0)
	assert.True(t, want.Equal(rec.RecommendedBudget[values.USD]), "got %s", rec.RecommendedBudget[values.USD])
	ratings.AssertExpectations(t)
}

func TestRecompute_Monotonicity(t *testing.T) {
	f := newSupersessionFixture(t)
	ctx := context.Background()
	svc := NewService(f.storage.Recommendations, nil, nil, DefaultConfig(), zaptest.NewLogger(t))

	before, _ := recompute(t, svc, f.storage, f.offerID)

	fixtures.NewBidBuilder(f.offerID).WithAmount(110, values.USD).BuildWithRepo(t, ctx, f.storage.Bids)
	afterLow, _ := recompute(t, svc, f.storage, f.offerID)
	assert.True(t, afterLow.RecommendedBudget[values.USD].LessThanOrEqual(before.RecommendedBudget[values.USD]),
		"a bid below the average raised the recommendation")

	fixtures.NewBidBuilder(f.offerID).WithAmount(200, values.USD).BuildWithRepo(t, ctx, f.storage.Bids)
	afterHigh, _ := recompute(t, svc, f.storage, f.offerID)
	assert.True(t, afterHigh.RecommendedBudget[values.USD].GreaterThanOrEqual(afterLow.RecommendedBudget[values.USD]),
		"a bid above the highest lowered the recommendation")
}

func TestRecompute_WithinRolledBackTransaction(t *testing.T) {
	f := newSupersessionFixture(t)
	svc := NewService(f.storage.Recommendations, nil, nil, DefaultConfig(), zaptest.NewLogger(t))

	err := f.storage.Tx.WithinJobOffer(context.Background(), f.offerID, func(ctx context.Context, repos repository.Repositories) error {
		if _, _, err := svc.Recompute(ctx, repos, f.offerID); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = svc.Get(context.Background(), f.offerID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}
