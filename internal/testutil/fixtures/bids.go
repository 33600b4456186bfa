package fixtures

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/bid"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

// USDToCOP is the rate fixtures use to normalize amounts
var USDToCOP = decimal.NewFromInt(4000)

// BidBuilder builds test Bid entities normalized at USDToCOP
type BidBuilder struct {
	jobOfferID uuid.UUID
	bidderID   uuid.UUID
	amount     values.Money
	status     bid.Status
	highest    bool
	createdAt  time.Time
	terms      bid.Terms
}

// NewBidBuilder creates a 100 USD active bid on the given offer
func NewBidBuilder(jobOfferID uuid.UUID) *BidBuilder {
	return &BidBuilder{
		jobOfferID: jobOfferID,
		bidderID:   uuid.New(),
		amount:     values.MustNewMoney(decimal.NewFromInt(100), values.USD),
		status:     bid.StatusActive,
		createdAt:  time.Now().UTC(),
		terms: bid.Terms{
			Message:           "Can come tomorrow morning",
			EstimatedDuration: "2h",
		},
	}
}

// WithBidderID sets the handyman placing the bid
func (b *BidBuilder) WithBidderID(id uuid.UUID) *BidBuilder {
	b.bidderID = id
	return b
}

// WithAmount sets the submitted amount
func (b *BidBuilder) WithAmount(amount int64, currency values.Currency) *BidBuilder {
	b.amount = values.MustNewMoney(decimal.NewFromInt(amount), currency)
	return b
}

// WithStatus sets the bid status
func (b *BidBuilder) WithStatus(status bid.Status) *BidBuilder {
	b.status = status
	return b
}

// AsCurrentHighest flags the bid as the offer's current highest
func (b *BidBuilder) AsCurrentHighest() *BidBuilder {
	b.highest = true
	return b
}

// WithCreatedAt sets the placement time
func (b *BidBuilder) WithCreatedAt(at time.Time) *BidBuilder {
	b.createdAt = at
	return b
}

// Build creates the Bid entity
func (b *BidBuilder) Build(t *testing.T) *bid.Bid {
	t.Helper()

	normalized := map[values.Currency]decimal.Decimal{}
	rate := decimal.NewFromInt(1)
	source := currency.SourceIdentity
	switch b.amount.Currency() {
	case values.USD:
		normalized[values.USD] = b.amount.Amount()
		normalized[values.COP] = b.amount.Amount().Mul(USDToCOP)
		rate, source = USDToCOP, currency.SourceLive
	case values.COP:
		normalized[values.COP] = b.amount.Amount()
		normalized[values.USD] = b.amount.Amount().Div(USDToCOP).Round(2)
		rate, source = decimal.NewFromInt(1).Div(USDToCOP), currency.SourceLive
	default:
		normalized[values.USD] = b.amount.Amount()
		normalized[b.amount.Currency()] = b.amount.Amount()
	}

	entity, err := bid.NewBid(b.jobOfferID, b.bidderID, b.amount, normalized, rate, source, b.terms)
	require.NoError(t, err)
	entity.Status = b.status
	entity.IsCurrentHighest = b.highest
	entity.CreatedAt = b.createdAt
	entity.UpdatedAt = b.createdAt
	return entity
}

// BuildWithRepo creates the Bid entity and saves it using the provided repository
func (b *BidBuilder) BuildWithRepo(t *testing.T, ctx context.Context, repo interface {
	Create(ctx context.Context, b *bid.Bid) error
}) *bid.Bid {
	t.Helper()
	entity := b.Build(t)
	require.NoError(t, repo.Create(ctx, entity))
	return entity
}
