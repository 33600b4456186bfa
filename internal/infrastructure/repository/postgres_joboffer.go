package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/joboffer"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/querybuilder"
)

type pgJobOfferRepository struct {
	db dbtx
}

const jobOfferColumns = `
	id, client_id, title, description, category,
	latitude, longitude, address, city, country,
	job_type, budget_min::text, budget_max::text, budget_currency,
	fixed_price::text, fixed_currency, accepts_bids, urgency,
	required_skills, target_categories, alert_start_time, alert_end_time,
	status, assigned_to, created_at, updated_at, version`

// Create stores a new job offer
func (r *pgJobOfferRepository) Create(ctx context.Context, j *joboffer.JobOffer) error {
	var fixedPrice, fixedCurrency any
	if j.FixedPrice != nil {
		fixedPrice = j.FixedPrice.Amount().String()
		fixedCurrency = j.FixedPrice.Currency().String()
	}

	query := `
		INSERT INTO job_offers (
			id, client_id, title, description, category,
			latitude, longitude, address, city, country,
			job_type, budget_min, budget_max, budget_currency,
			fixed_price, fixed_currency, accepts_bids, urgency,
			required_skills, target_categories, alert_start_time, alert_end_time,
			status, assigned_to, created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18,
			$19, $20, $21, $22,
			$23, $24, $25, $26, $27
		)`

	_, err := r.db.Exec(ctx, query,
		j.ID, j.ClientID, j.Title, j.Description, j.Category,
		j.Location.Point.Lat, j.Location.Point.Lng, j.Location.Address, j.Location.City, j.Location.Country,
		string(j.JobType), j.Budget.Min.String(), j.Budget.Max.String(), j.Budget.Currency.String(),
		fixedPrice, fixedCurrency, j.AcceptsBids, string(j.Urgency),
		nonNil(j.RequiredSkills), nonNil(j.TargetCategories), j.AlertStartTime, j.AlertEndTime,
		j.Status.String(), j.AssignedTo, j.CreatedAt, j.UpdatedAt, j.Version,
	)
	if err != nil {
		return WrapRepositoryError(err, "failed to create job offer")
	}
	return nil
}

// GetByID retrieves a job offer by ID
func (r *pgJobOfferRepository) GetByID(ctx context.Context, id uuid.UUID) (*joboffer.JobOffer, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobOfferColumns+` FROM job_offers WHERE id = $1`, id)
	j, err := scanJobOffer(row)
	if err != nil {
		return nil, WrapRepositoryError(err, "failed to get job offer")
	}
	return j, nil
}

// Update persists mutable fields of a job offer
func (r *pgJobOfferRepository) Update(ctx context.Context, j *joboffer.JobOffer) error {
	query := `
		UPDATE job_offers SET
			budget_min = $2, budget_max = $3, budget_currency = $4,
			status = $5, assigned_to = $6, updated_at = $7, version = $8
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		j.ID, j.Budget.Min.String(), j.Budget.Max.String(), j.Budget.Currency.String(),
		j.Status.String(), j.AssignedTo, j.UpdatedAt, j.Version,
	)
	if err != nil {
		return WrapRepositoryError(err, "failed to update job offer")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns job offers matching the filter, newest first
func (r *pgJobOfferRepository) List(ctx context.Context, filter JobOfferFilter) ([]*joboffer.JobOffer, error) {
	qb := querybuilder.Select(jobOfferColumns).From("job_offers")
	if filter.Status != nil {
		qb.WhereEqual("status", filter.Status.String())
	}
	if filter.ClientID != nil {
		qb.WhereEqual("client_id", *filter.ClientID)
	}
	query, args, err := qb.OrderByDesc("created_at").Limit(filter.Limit).Offset(filter.Offset).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building job offer query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapRepositoryError(err, "failed to list job offers")
	}
	defer rows.Close()

	var offers []*joboffer.JobOffer
	for rows.Next() {
		j, err := scanJobOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, j)
	}
	return offers, rows.Err()
}

func scanJobOffer(row pgx.Row) (*joboffer.JobOffer, error) {
	var (
		j                        joboffer.JobOffer
		jobType, urgency, status string
		budgetMin, budgetMax     string
		budgetCurrency           string
		fixedPrice, fixedCur     *string
	)

	err := row.Scan(
		&j.ID, &j.ClientID, &j.Title, &j.Description, &j.Category,
		&j.Location.Point.Lat, &j.Location.Point.Lng, &j.Location.Address, &j.Location.City, &j.Location.Country,
		&jobType, &budgetMin, &budgetMax, &budgetCurrency,
		&fixedPrice, &fixedCur, &j.AcceptsBids, &urgency,
		&j.RequiredSkills, &j.TargetCategories, &j.AlertStartTime, &j.AlertEndTime,
		&status, &j.AssignedTo, &j.CreatedAt, &j.UpdatedAt, &j.Version,
	)
	if err != nil {
		return nil, err
	}

	j.JobType = joboffer.JobType(jobType)
	j.Urgency = joboffer.Urgency(urgency)
	if j.Status, err = joboffer.ParseStatus(status); err != nil {
		return nil, err
	}

	j.Budget.Currency = values.Currency(strings.TrimSpace(budgetCurrency))
	if j.Budget.Min, err = parseDecimal(budgetMin); err != nil {
		return nil, err
	}
	if j.Budget.Max, err = parseDecimal(budgetMax); err != nil {
		return nil, err
	}

	if fixedPrice != nil && fixedCur != nil {
		amount, err := parseDecimal(*fixedPrice)
		if err != nil {
			return nil, err
		}
		m, err := values.NewMoney(amount, values.Currency(strings.TrimSpace(*fixedCur)))
		if err != nil {
			return nil, err
		}
		j.FixedPrice = &m
	}

	return &j, nil
}
