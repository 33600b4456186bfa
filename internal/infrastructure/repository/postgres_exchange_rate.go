package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

type pgExchangeRateRepository struct {
	pool *pgxpool.Pool
}

const exchangeRateColumns = `id, from_currency, to_currency, rate::text, source, last_updated, is_active`

// GetLatestActive returns the most recent active row for the pair
func (r *pgExchangeRateRepository) GetLatestActive(ctx context.Context, from, to values.Currency) (*currency.ExchangeRate, error) {
	rate, err := scanExchangeRate(r.pool.QueryRow(ctx, `
		SELECT `+exchangeRateColumns+`
		FROM exchange_rates
		WHERE from_currency = $1 AND to_currency = $2 AND is_active
		ORDER BY last_updated DESC
		LIMIT 1`, from.String(), to.String()))
	if err != nil {
		return nil, WrapRepositoryError(err, "failed to get exchange rate")
	}
	return rate, nil
}

// History returns active and historical rows for the pair since the given time
func (r *pgExchangeRateRepository) History(ctx context.Context, from, to values.Currency, since time.Time) ([]*currency.ExchangeRate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+exchangeRateColumns+`
		FROM exchange_rates
		WHERE from_currency = $1 AND to_currency = $2 AND last_updated >= $3
		ORDER BY last_updated`, from.String(), to.String(), since)
	if err != nil {
		return nil, WrapRepositoryError(err, "failed to query exchange rate history")
	}
	defer rows.Close()

	var history []*currency.ExchangeRate
	for rows.Next() {
		rate, err := scanExchangeRate(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, rate)
	}
	return history, rows.Err()
}

// Save inserts a rate; an active row retires the previous active rows of the pair
func (r *pgExchangeRateRepository) Save(ctx context.Context, rate *currency.ExchangeRate) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if rate.IsActive {
			if _, err := tx.Exec(ctx, `
				UPDATE exchange_rates SET is_active = FALSE
				WHERE from_currency = $1 AND to_currency = $2 AND is_active`,
				rate.From.String(), rate.To.String()); err != nil {
				return WrapRepositoryError(err, "failed to retire exchange rates")
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO exchange_rates (id, from_currency, to_currency, rate, source, last_updated, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rate.ID, rate.From.String(), rate.To.String(), rate.Rate.String(), rate.Source, rate.LastUpdated, rate.IsActive)
		if err != nil {
			return WrapRepositoryError(err, "failed to insert exchange rate")
		}
		return nil
	})
}

func scanExchangeRate(row pgx.Row) (*currency.ExchangeRate, error) {
	var (
		rate               currency.ExchangeRate
		from, to, rateText string
	)
	if err := row.Scan(&rate.ID, &from, &to, &rateText, &rate.Source, &rate.LastUpdated, &rate.IsActive); err != nil {
		return nil, err
	}
	rate.From = values.Currency(strings.TrimSpace(from))
	rate.To = values.Currency(strings.TrimSpace(to))

	var err error
	if rate.Rate, err = parseDecimal(rateText); err != nil {
		return nil, err
	}
	return &rate, nil
}
