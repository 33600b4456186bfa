package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/bid"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/joboffer"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/repository"
)

// JobOfferRepository mock
type JobOfferRepository struct {
	mock.Mock
}

func (m *JobOfferRepository) Create(ctx context.Context, j *joboffer.JobOffer) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *JobOfferRepository) GetByID(ctx context.Context, id uuid.UUID) (*joboffer.JobOffer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*joboffer.JobOffer), args.Error(1)
}

func (m *JobOfferRepository) Update(ctx context.Context, j *joboffer.JobOffer) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *JobOfferRepository) List(ctx context.Context, filter repository.JobOfferFilter) ([]*joboffer.JobOffer, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*joboffer.JobOffer), args.Error(1)
}

// BidRepository mock
type BidRepository struct {
	mock.Mock
}

func (m *BidRepository) Create(ctx context.Context, b *bid.Bid) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *BidRepository) GetByID(ctx context.Context, id uuid.UUID) (*bid.Bid, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bid.Bid), args.Error(1)
}

func (m *BidRepository) Update(ctx context.Context, b *bid.Bid) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *BidRepository) ListByJobOffer(ctx context.Context, jobOfferID uuid.UUID) ([]*bid.Bid, error) {
	args := m.Called(ctx, jobOfferID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*bid.Bid), args.Error(1)
}

func (m *BidRepository) ListByBidder(ctx context.Context, bidderID uuid.UUID) ([]*bid.Bid, error) {
	args := m.Called(ctx, bidderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*bid.Bid), args.Error(1)
}

func (m *BidRepository) GetActiveByBidder(ctx context.Context, jobOfferID, bidderID uuid.UUID) (*bid.Bid, error) {
	args := m.Called(ctx, jobOfferID, bidderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bid.Bid), args.Error(1)
}

func (m *BidRepository) GetCurrentHighest(ctx context.Context, jobOfferID uuid.UUID) (*bid.Bid, error) {
	args := m.Called(ctx, jobOfferID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bid.Bid), args.Error(1)
}

// ExchangeRateRepository mock
type ExchangeRateRepository struct {
	mock.Mock
}

func (m *ExchangeRateRepository) GetLatestActive(ctx context.Context, from, to values.Currency) (*currency.ExchangeRate, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*currency.ExchangeRate), args.Error(1)
}

func (m *ExchangeRateRepository) History(ctx context.Context, from, to values.Currency, since time.Time) ([]*currency.ExchangeRate, error) {
	args := m.Called(ctx, from, to, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*currency.ExchangeRate), args.Error(1)
}

func (m *ExchangeRateRepository) Save(ctx context.Context, r *currency.ExchangeRate) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}
