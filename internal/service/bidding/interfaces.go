package bidding

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/bid"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/pricing"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/repository"
	"github.com/davidleathers/handyman-marketplace-backend/internal/service/currency"
)

// Service defines the bid record store
type Service interface {
	// PlaceBid creates a new active bid on a job offer
	PlaceBid(ctx context.Context, req *PlaceBidRequest) (*bid.Bid, error)
	// WithdrawBid withdraws a live bid on behalf of its bidder
	WithdrawBid(ctx context.Context, bidID, bidderID uuid.UUID) error
	// GetBid retrieves a specific bid
	GetBid(ctx context.Context, bidID uuid.UUID) (*bid.Bid, error)
	// ListBidsForJobOffer returns every bid on a job offer, oldest first
	ListBidsForJobOffer(ctx context.Context, jobOfferID uuid.UUID) ([]*bid.Bid, error)
	// ListBidsForBidder returns every bid of a bidder, newest first
	ListBidsForBidder(ctx context.Context, bidderID uuid.UUID) ([]*bid.Bid, error)
	// GetCurrentHighest returns the job offer's current highest bid
	GetCurrentHighest(ctx context.Context, jobOfferID uuid.UUID) (*bid.Bid, error)
}

// PlaceBidRequest represents a request to place a bid
type PlaceBidRequest struct {
	JobOfferID        uuid.UUID       `json:"job_offer_id" validate:"required"`
	BidderID          uuid.UUID       `json:"bidder_id" validate:"required"`
	Amount            decimal.Decimal `json:"amount" validate:"positive_amount"`
	Currency          string          `json:"currency" validate:"required,iso4217"`
	Message           string          `json:"message" validate:"max=2000"`
	EstimatedDuration string          `json:"estimated_duration" validate:"max=100"`
	ProposedStartDate *time.Time      `json:"proposed_start_date,omitempty"`
	Availability      string          `json:"availability" validate:"max=500"`
}

// Normalizer converts a bid amount into the settlement currencies
type Normalizer interface {
	Normalize(ctx context.Context, money values.Money, targets []values.Currency) (*currency.Normalization, error)
}

// RecommendationEngine recomputes a job offer's price recommendation inside
// the caller's transaction
type RecommendationEngine interface {
	Recompute(ctx context.Context, repos repository.Repositories, jobOfferID uuid.UUID) (*pricing.Recommendation, bool, error)
}

// AttemptLimiter throttles bid attempts per bidder. The redis sliding
// window limiter satisfies it.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
