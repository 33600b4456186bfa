package pricing

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/pricing"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/repository"
)

// Service maintains the price recommendation of each job offer
type Service interface {
	// Recompute rebuilds the job offer's recommendation from its live bids
	// using repos, so it joins the caller's transaction. It reports false
	// and leaves the stored recommendation untouched when no bid is live.
	Recompute(ctx context.Context, repos repository.Repositories, jobOfferID uuid.UUID) (*pricing.Recommendation, bool, error)
	// Get returns the stored recommendation
	Get(ctx context.Context, jobOfferID uuid.UUID) (*pricing.Recommendation, error)
}

// RatingProvider looks up a user's profile rating. A nil rating means the
// user has not been rated.
type RatingProvider interface {
	GetRating(ctx context.Context, userID uuid.UUID) (*float64, error)
}

// StaticRatings serves ratings from a fixed map
type StaticRatings map[uuid.UUID]float64

func (r StaticRatings) GetRating(ctx context.Context, userID uuid.UUID) (*float64, error) {
	v, ok := r[userID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}
