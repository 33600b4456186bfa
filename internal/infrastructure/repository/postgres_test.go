package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/bid"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/joboffer"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/pricing"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/repository"
	"github.com/davidleathers/handyman-marketplace-backend/internal/testutil"
	"github.com/davidleathers/handyman-marketplace-backend/internal/testutil/fixtures"
)

func TestPostgresStorage(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	storage := repository.NewPostgresStorage(tdb.Pool())

	t.Run("job offer round trip", func(t *testing.T) {
		tdb.TruncateTables()
		ctx := testutil.TestContext(t)

		offer := fixtures.NewJobOfferBuilder().
			WithCategory("plumbing", "pipes", "kitchen").
			WithAlertWindow(-time.Hour, time.Hour).
			BuildWithRepo(t, ctx, storage.JobOffers)

		got, err := storage.JobOffers.GetByID(ctx, offer.ID)
		require.NoError(t, err)
		assert.Equal(t, offer.Title, got.Title)
		assert.Equal(t, joboffer.StatusOpen, got.Status)
		assert.True(t, got.AcceptsBids)
		assert.True(t, offer.Budget.Max.Equal(got.Budget.Max))
		assert.Equal(t, values.USD, got.Budget.Currency)
		assert.Equal(t, []string{"pipes", "kitchen"}, got.TargetCategories)
		require.NotNil(t, got.AlertEndTime)

		require.NoError(t, got.Assign(uuid.New()))
		require.NoError(t, storage.JobOffers.Update(ctx, got))

		status := joboffer.StatusInProgress
		offers, err := storage.JobOffers.List(ctx, repository.JobOfferFilter{Status: &status})
		require.NoError(t, err)
		require.Len(t, offers, 1)
		assert.Equal(t, got.AssignedTo, offers[0].AssignedTo)
	})

	t.Run("fixed price offer keeps its price", func(t *testing.T) {
		tdb.TruncateTables()
		ctx := testutil.TestContext(t)

		offer := fixtures.NewJobOfferBuilder().WithFixedPrice(90, values.USD).BuildWithRepo(t, ctx, storage.JobOffers)

		got, err := storage.JobOffers.GetByID(ctx, offer.ID)
		require.NoError(t, err)
		require.NotNil(t, got.FixedPrice)
		assert.True(t, got.FixedPrice.Amount().Equal(decimal.NewFromInt(90)))
		assert.False(t, got.AcceptsBids)
	})

	t.Run("unique indexes guard bid invariants", func(t *testing.T) {
		tdb.TruncateTables()
		ctx := testutil.TestContext(t)

		offer := fixtures.NewJobOfferBuilder().BuildWithRepo(t, ctx, storage.JobOffers)
		bidder := uuid.New()

		first := fixtures.NewBidBuilder(offer.ID).WithBidderID(bidder).AsCurrentHighest().BuildWithRepo(t, ctx, storage.Bids)

		err := storage.Bids.Create(ctx, fixtures.NewBidBuilder(offer.ID).WithBidderID(bidder).Build(t))
		assert.ErrorIs(t, err, repository.ErrDuplicateKey)

		err = storage.Bids.Create(ctx, fixtures.NewBidBuilder(offer.ID).AsCurrentHighest().Build(t))
		assert.ErrorIs(t, err, repository.ErrDuplicateKey)

		got, err := storage.Bids.GetCurrentHighest(ctx, offer.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.True(t, got.Amount.Amount().Equal(decimal.NewFromInt(100)))
		assert.True(t, got.Normalized[values.COP].Equal(decimal.NewFromInt(400000)))
		assert.Equal(t, currency.SourceLive, got.RateSource)
	})

	t.Run("bids reference existing offers", func(t *testing.T) {
		tdb.TruncateTables()
		ctx := testutil.TestContext(t)

		err := storage.Bids.Create(ctx, fixtures.NewBidBuilder(uuid.New()).Build(t))
		assert.ErrorIs(t, err, repository.ErrForeignKey)
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		tdb.TruncateTables()
		ctx := testutil.TestContext(t)

		offer := fixtures.NewJobOfferBuilder().BuildWithRepo(t, ctx, storage.JobOffers)
		boom := errors.New("boom")

		err := storage.Tx.WithinJobOffer(ctx, offer.ID, func(ctx context.Context, repos repository.Repositories) error {
			require.NoError(t, repos.Bids.Create(ctx, fixtures.NewBidBuilder(offer.ID).Build(t)))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		tdb.AssertRowCount("bids", 0)
	})

	t.Run("recommendation and assignment", func(t *testing.T) {
		tdb.TruncateTables()
		ctx := testutil.TestContext(t)

		offer := fixtures.NewJobOfferBuilder().BuildWithRepo(t, ctx, storage.JobOffers)
		winner := fixtures.NewBidBuilder(offer.ID).WithStatus(bid.StatusAccepted).BuildWithRepo(t, ctx, storage.Bids)

		rec, ok := pricing.Compute(pricing.Input{
			JobOfferID: offer.ID,
			Bids:       []*bid.Bid{fixtures.NewBidBuilder(offer.ID).Build(t)},
			Currencies: []values.Currency{values.USD, values.COP},
		})
		require.True(t, ok)
		require.NoError(t, storage.Recommendations.Upsert(ctx, rec))
		require.NoError(t, storage.Recommendations.Upsert(ctx, rec))

		got, err := storage.Recommendations.Get(ctx, offer.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.TotalBids)
		assert.True(t, got.AverageBid[values.COP].Equal(decimal.NewFromInt(400000)))

		a := joboffer.NewBidAssignment(offer, winner.ID, winner.BidderID, winner.Amount)
		require.NoError(t, storage.Assignments.Create(ctx, a))
		stored, err := storage.Assignments.GetByJobOffer(ctx, offer.ID)
		require.NoError(t, err)
		assert.Equal(t, joboffer.MethodBidAcceptance, stored.Method)
		require.NotNil(t, stored.BidID)
		assert.Equal(t, winner.ID, *stored.BidID)
	})

	t.Run("exchange rates retire previous rows", func(t *testing.T) {
		tdb.TruncateTables()
		ctx := testutil.TestContext(t)

		first, err := currency.NewExchangeRate(values.USD, values.COP, decimal.NewFromInt(3950), "feed")
		require.NoError(t, err)
		first.LastUpdated = time.Now().Add(-time.Hour)
		require.NoError(t, storage.ExchangeRates.Save(ctx, first))

		second, err := currency.NewExchangeRate(values.USD, values.COP, decimal.NewFromInt(4010), "feed")
		require.NoError(t, err)
		require.NoError(t, storage.ExchangeRates.Save(ctx, second))

		latest, err := storage.ExchangeRates.GetLatestActive(ctx, values.USD, values.COP)
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)

		history, err := storage.ExchangeRates.History(ctx, values.USD, values.COP, time.Now().Add(-2*time.Hour))
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.False(t, history[0].IsActive)

		_, err = storage.ExchangeRates.GetLatestActive(ctx, values.COP, values.USD)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}
