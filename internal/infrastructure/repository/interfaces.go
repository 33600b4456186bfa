package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/bid"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/joboffer"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/pricing"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

// JobOfferRepository defines the interface for job offer persistence
type JobOfferRepository interface {
	// Create inserts a new job offer
	Create(ctx context.Context, j *joboffer.JobOffer) error

	// GetByID retrieves a job offer by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*joboffer.JobOffer, error)

	// Update persists status, budget and assignee changes
	Update(ctx context.Context, j *joboffer.JobOffer) error

	// List returns job offers matching the filter
	List(ctx context.Context, filter JobOfferFilter) ([]*joboffer.JobOffer, error)
}

// JobOfferFilter defines filtering options for listing job offers
type JobOfferFilter struct {
	Status   *joboffer.Status
	ClientID *uuid.UUID

	Limit  int
	Offset int
}

// BidRepository defines the interface for bid persistence
type BidRepository interface {
	// Create inserts a new bid. Returns ErrDuplicateKey when the bidder
	// already holds an active bid on the job offer.
	Create(ctx context.Context, b *bid.Bid) error

	// GetByID retrieves a bid by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*bid.Bid, error)

	// Update persists status and highest-flag changes
	Update(ctx context.Context, b *bid.Bid) error

	// ListByJobOffer returns every bid on a job offer, oldest first
	ListByJobOffer(ctx context.Context, jobOfferID uuid.UUID) ([]*bid.Bid, error)

	// ListByBidder returns every bid placed by a bidder, newest first
	ListByBidder(ctx context.Context, bidderID uuid.UUID) ([]*bid.Bid, error)

	// GetActiveByBidder returns the bidder's active bid on a job offer
	GetActiveByBidder(ctx context.Context, jobOfferID, bidderID uuid.UUID) (*bid.Bid, error)

	// GetCurrentHighest returns the active bid flagged as current highest
	GetCurrentHighest(ctx context.Context, jobOfferID uuid.UUID) (*bid.Bid, error)
}

// RecommendationRepository stores one recommendation per job offer
type RecommendationRepository interface {
	// Upsert replaces the job offer's recommendation wholesale
	Upsert(ctx context.Context, r *pricing.Recommendation) error

	// Get returns the stored recommendation for a job offer
	Get(ctx context.Context, jobOfferID uuid.UUID) (*pricing.Recommendation, error)
}

// AssignmentRepository stores the assignment created when a job starts
type AssignmentRepository interface {
	Create(ctx context.Context, a *joboffer.Assignment) error
	GetByJobOffer(ctx context.Context, jobOfferID uuid.UUID) (*joboffer.Assignment, error)
}

// ExchangeRateRepository reads the rate table populated by the external feed
type ExchangeRateRepository interface {
	// GetLatestActive returns the most recent active rate for the pair
	GetLatestActive(ctx context.Context, from, to values.Currency) (*currency.ExchangeRate, error)

	// History returns every rate for the pair updated at or after since
	History(ctx context.Context, from, to values.Currency, since time.Time) ([]*currency.ExchangeRate, error)

	// Save inserts a rate row and deactivates older rows of the same pair
	Save(ctx context.Context, r *currency.ExchangeRate) error
}

// Repositories groups the repositories that share a job offer's transaction
type Repositories struct {
	JobOffers       JobOfferRepository
	Bids            BidRepository
	Recommendations RecommendationRepository
	Assignments     AssignmentRepository
}

// TxManager runs read-modify-write sequences scoped to one job offer
type TxManager interface {
	// WithinJobOffer serializes fn against every other call for the same
	// job offer. Writes made through repos are applied only when fn returns
	// nil.
	WithinJobOffer(ctx context.Context, jobOfferID uuid.UUID, fn func(ctx context.Context, repos Repositories) error) error
}

// Storage is the complete persistence layer handed to services
type Storage struct {
	Repositories
	ExchangeRates ExchangeRateRepository
	Tx            TxManager

	close func()
}

// Close releases the underlying resources
func (s *Storage) Close() {
	if s.close != nil {
		s.close()
	}
}
