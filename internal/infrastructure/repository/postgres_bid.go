package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/bid"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

type pgBidRepository struct {
	db dbtx
}

const bidColumns = `
	id, job_offer_id, bidder_id, amount::text, currency,
	normalized_amounts, exchange_rate_used::text, rate_source,
	message, estimated_duration, proposed_start_date, availability,
	status, is_current_highest, created_at, updated_at`

// Create stores a new bid. The partial unique indexes reject a second active
// bid per bidder and a second current-highest bid per job offer.
func (r *pgBidRepository) Create(ctx context.Context, b *bid.Bid) error {
	normalized, err := marshalAmounts(b.Normalized)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bids (
			id, job_offer_id, bidder_id, amount, currency,
			normalized_amounts, exchange_rate_used, rate_source,
			message, estimated_duration, proposed_start_date, availability,
			status, is_current_highest, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16
		)`

	_, err = r.db.Exec(ctx, query,
		b.ID, b.JobOfferID, b.BidderID, b.Amount.Amount().String(), b.Amount.Currency().String(),
		normalized, b.ExchangeRateUsed.String(), string(b.RateSource),
		b.Message, b.EstimatedDuration, b.ProposedStartDate, b.Availability,
		b.Status.String(), b.IsCurrentHighest, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return WrapRepositoryError(err, "failed to create bid")
	}
	return nil
}

// GetByID retrieves a bid by ID
func (r *pgBidRepository) GetByID(ctx context.Context, id uuid.UUID) (*bid.Bid, error) {
	b, err := scanBid(r.db.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if err != nil {
		return nil, WrapRepositoryError(err, "failed to get bid")
	}
	return b, nil
}

// Update persists status and the current-highest flag
func (r *pgBidRepository) Update(ctx context.Context, b *bid.Bid) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE bids SET status = $2, is_current_highest = $3, updated_at = $4
		WHERE id = $1`,
		b.ID, b.Status.String(), b.IsCurrentHighest, b.UpdatedAt,
	)
	if err != nil {
		return WrapRepositoryError(err, "failed to update bid")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgBidRepository) ListByJobOffer(ctx context.Context, jobOfferID uuid.UUID) ([]*bid.Bid, error) {
	return r.list(ctx, `SELECT `+bidColumns+` FROM bids WHERE job_offer_id = $1 ORDER BY created_at, id`, jobOfferID)
}

func (r *pgBidRepository) ListByBidder(ctx context.Context, bidderID uuid.UUID) ([]*bid.Bid, error) {
	return r.list(ctx, `SELECT `+bidColumns+` FROM bids WHERE bidder_id = $1 ORDER BY created_at DESC, id`, bidderID)
}

func (r *pgBidRepository) GetActiveByBidder(ctx context.Context, jobOfferID, bidderID uuid.UUID) (*bid.Bid, error) {
	b, err := scanBid(r.db.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE job_offer_id = $1 AND bidder_id = $2 AND status = 'active'`,
		jobOfferID, bidderID))
	if err != nil {
		return nil, WrapRepositoryError(err, "failed to get active bid")
	}
	return b, nil
}

func (r *pgBidRepository) GetCurrentHighest(ctx context.Context, jobOfferID uuid.UUID) (*bid.Bid, error) {
	b, err := scanBid(r.db.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE job_offer_id = $1 AND is_current_highest AND status = 'active'`,
		jobOfferID))
	if err != nil {
		return nil, WrapRepositoryError(err, "failed to get current highest bid")
	}
	return b, nil
}

func (r *pgBidRepository) list(ctx context.Context, query string, arg uuid.UUID) ([]*bid.Bid, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, WrapRepositoryError(err, "failed to list bids")
	}
	defer rows.Close()

	var bids []*bid.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func scanBid(row pgx.Row) (*bid.Bid, error) {
	var (
		b                      bid.Bid
		amount, cur, rate, src string
		status                 string
		normalized             []byte
	)

	err := row.Scan(
		&b.ID, &b.JobOfferID, &b.BidderID, &amount, &cur,
		&normalized, &rate, &src,
		&b.Message, &b.EstimatedDuration, &b.ProposedStartDate, &b.Availability,
		&status, &b.IsCurrentHighest, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	value, err := parseDecimal(amount)
	if err != nil {
		return nil, err
	}
	if b.Amount, err = values.NewMoney(value, values.Currency(strings.TrimSpace(cur))); err != nil {
		return nil, err
	}
	if b.ExchangeRateUsed, err = parseDecimal(rate); err != nil {
		return nil, err
	}
	if b.Normalized, err = unmarshalAmounts(normalized); err != nil {
		return nil, err
	}
	if b.Status, err = bid.ParseStatus(status); err != nil {
		return nil, err
	}
	b.RateSource = currency.RateSource(src)

	return &b, nil
}
