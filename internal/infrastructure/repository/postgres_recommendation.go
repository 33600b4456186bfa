package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/joboffer"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/pricing"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

type pgRecommendationRepository struct {
	db dbtx
}

// Upsert replaces the stored recommendation for the job offer
func (r *pgRecommendationRepository) Upsert(ctx context.Context, rec *pricing.Recommendation) error {
	avg, err := marshalAmounts(rec.AverageBid)
	if err != nil {
		return err
	}
	high, err := marshalAmounts(rec.HighestBid)
	if err != nil {
		return err
	}
	low, err := marshalAmounts(rec.LowestBid)
	if err != nil {
		return err
	}
	budget, err := marshalAmounts(rec.RecommendedBudget)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO price_recommendations (
			job_offer_id, average_bid, highest_bid, lowest_bid, recommended_budget,
			total_bids, quality_score, market_trend, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_offer_id) DO UPDATE SET
			average_bid = EXCLUDED.average_bid,
			highest_bid = EXCLUDED.highest_bid,
			lowest_bid = EXCLUDED.lowest_bid,
			recommended_budget = EXCLUDED.recommended_budget,
			total_bids = EXCLUDED.total_bids,
			quality_score = EXCLUDED.quality_score,
			market_trend = EXCLUDED.market_trend,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.Exec(ctx, query,
		rec.JobOfferID, avg, high, low, budget,
		rec.TotalBids, rec.QualityScore, string(rec.MarketTrend), rec.UpdatedAt,
	)
	if err != nil {
		return WrapRepositoryError(err, "failed to upsert price recommendation")
	}
	return nil
}

func (r *pgRecommendationRepository) Get(ctx context.Context, jobOfferID uuid.UUID) (*pricing.Recommendation, error) {
	var (
		rec                    pricing.Recommendation
		avg, high, low, budget []byte
		trend                  string
	)

	err := r.db.QueryRow(ctx, `
		SELECT job_offer_id, average_bid, highest_bid, lowest_bid, recommended_budget,
			total_bids, quality_score, market_trend, updated_at
		FROM price_recommendations WHERE job_offer_id = $1`, jobOfferID,
	).Scan(&rec.JobOfferID, &avg, &high, &low, &budget,
		&rec.TotalBids, &rec.QualityScore, &trend, &rec.UpdatedAt)
	if err != nil {
		return nil, WrapRepositoryError(err, "failed to get price recommendation")
	}

	if rec.AverageBid, err = unmarshalAmounts(avg); err != nil {
		return nil, err
	}
	if rec.HighestBid, err = unmarshalAmounts(high); err != nil {
		return nil, err
	}
	if rec.LowestBid, err = unmarshalAmounts(low); err != nil {
		return nil, err
	}
	if rec.RecommendedBudget, err = unmarshalAmounts(budget); err != nil {
		return nil, err
	}
	rec.MarketTrend = pricing.MarketTrend(trend)

	return &rec, nil
}

type pgAssignmentRepository struct {
	db dbtx
}

func (r *pgAssignmentRepository) Create(ctx context.Context, a *joboffer.Assignment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO assignments (
			id, job_offer_id, handyman_id, client_id, bid_id,
			agreed_amount, agreed_currency, method, assigned_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.JobOfferID, a.HandymanID, a.ClientID, a.BidID,
		a.AgreedAmount.Amount().String(), a.AgreedAmount.Currency().String(), string(a.Method), a.AssignedAt,
	)
	if err != nil {
		return WrapRepositoryError(err, "failed to create assignment")
	}
	return nil
}

func (r *pgAssignmentRepository) GetByJobOffer(ctx context.Context, jobOfferID uuid.UUID) (*joboffer.Assignment, error) {
	var (
		a           joboffer.Assignment
		amount, cur string
		method      string
	)

	err := r.db.QueryRow(ctx, `
		SELECT id, job_offer_id, handyman_id, client_id, bid_id,
			agreed_amount::text, agreed_currency, method, assigned_at
		FROM assignments WHERE job_offer_id = $1`, jobOfferID,
	).Scan(&a.ID, &a.JobOfferID, &a.HandymanID, &a.ClientID, &a.BidID,
		&amount, &cur, &method, &a.AssignedAt)
	if err != nil {
		return nil, WrapRepositoryError(err, "failed to get assignment")
	}

	value, err := parseDecimal(amount)
	if err != nil {
		return nil, err
	}
	if a.AgreedAmount, err = values.NewMoney(value, values.Currency(strings.TrimSpace(cur))); err != nil {
		return nil, err
	}
	a.Method = joboffer.AssignmentMethod(method)

	return &a, nil
}
