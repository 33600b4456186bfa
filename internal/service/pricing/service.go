// Package pricing recomputes price recommendations whenever the bid set of a
// job offer changes.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/errors"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/pricing"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/repository"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/handyman-marketplace-backend/internal/metrics"
)

const serviceName = "pricing"

// Config holds the recommendation engine settings
type Config struct {
	// Currencies the recommendation is expressed in
	Currencies          []values.Currency
	DefaultQualityScore float64
	RatingTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Currencies:          []values.Currency{values.USD, values.COP},
		DefaultQualityScore: pricing.DefaultQualityScore,
		RatingTimeout:       300 * time.Millisecond,
	}
}

// service implements the Service interface
type service struct {
	recommendations repository.RecommendationRepository
	ratings         RatingProvider
	metrics         *metrics.Registry
	logger          *zap.Logger
	config          Config
}

// NewService creates the recommendation engine. ratings and registry may be
// nil; without ratings every bidder counts as unrated.
func NewService(recommendations repository.RecommendationRepository, ratings RatingProvider, registry *metrics.Registry, cfg Config, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = def.Currencies
	}
	if cfg.DefaultQualityScore <= 0 {
		cfg.DefaultQualityScore = def.DefaultQualityScore
	}
	if cfg.RatingTimeout <= 0 {
		cfg.RatingTimeout = def.RatingTimeout
	}
	return &service{
		recommendations: recommendations,
		ratings:         ratings,
		metrics:         registry,
		logger:          logger.Named(serviceName),
		config:          cfg,
	}
}

// Recompute implements Service
func (s *service) Recompute(ctx context.Context, repos repository.Repositories, jobOfferID uuid.UUID) (*pricing.Recommendation, bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "Recompute",
		attribute.String("job_offer_id", jobOfferID.String()))
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordRecompute(ctx, time.Since(start)) }()

	bids, err := repos.Bids.ListByJobOffer(ctx, jobOfferID)
	if err != nil {
		telemetry.WithSpanError(span, err)
		return nil, false, fmt.Errorf("listing bids for recommendation: %w", err)
	}

	live := pricing.LiveBids(bids)
	if len(live) == 0 {
		s.logger.Debug("no live bids, keeping previous recommendation",
			zap.String("job_offer_id", jobOfferID.String()))
		return nil, false, nil
	}

	bidders := make([]uuid.UUID, 0, len(live))
	seen := make(map[uuid.UUID]struct{}, len(live))
	for _, b := range live {
		if _, ok := seen[b.BidderID]; ok {
			continue
		}
		seen[b.BidderID] = struct{}{}
		bidders = append(bidders, b.BidderID)
	}

	rec, ok := pricing.Compute(pricing.Input{
		JobOfferID:   jobOfferID,
		Bids:         live,
		Ratings:      s.collectRatings(ctx, bidders),
		Currencies:   s.config.Currencies,
		DefaultScore: s.config.DefaultQualityScore,
	})
	if !ok {
		return nil, false, nil
	}

	if err := repos.Recommendations.Upsert(ctx, rec); err != nil {
		telemetry.WithSpanError(span, err)
		return nil, false, fmt.Errorf("storing recommendation: %w", err)
	}

	s.logger.Debug("recommendation recomputed",
		zap.String("job_offer_id", jobOfferID.String()),
		zap.Int("total_bids", rec.TotalBids),
		zap.Float64("quality_score", rec.QualityScore),
		zap.String("market_trend", string(rec.MarketTrend)))

	return rec, true, nil
}

// collectRatings returns the ratings of rated bidders. Lookup failures and
// timeouts count as unrated.
func (s *service) collectRatings(ctx context.Context, bidders []uuid.UUID) []float64 {
	if s.ratings == nil {
		return nil
	}

	ratings := make([]float64, 0, len(bidders))
	for _, id := range bidders {
		rating, err := s.rating(ctx, id)
		if err != nil {
			s.logger.Warn("bidder rating lookup failed, treating as unrated",
				zap.String("bidder_id", id.String()),
				zap.Error(err))
			continue
		}
		if rating != nil {
			ratings = append(ratings, *rating)
		}
	}
	return ratings
}

func (s *service) rating(ctx context.Context, userID uuid.UUID) (*float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RatingTimeout)
	defer cancel()
	return s.ratings.GetRating(ctx, userID)
}

// Get implements Service
func (s *service) Get(ctx context.Context, jobOfferID uuid.UUID) (*pricing.Recommendation, error) {
	rec, err := s.recommendations.Get(ctx, jobOfferID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, errors.NewNotFoundError("price recommendation").WithCause(err)
		}
		return nil, fmt.Errorf("getting recommendation: %w", err)
	}
	return rec, nil
}
