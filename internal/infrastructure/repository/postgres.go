package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/querybuilder"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements the repository ports on PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage builds a Storage backed by pool. Closing the storage
// closes the pool.
func NewPostgresStorage(pool *pgxpool.Pool) *Storage {
	s := &PostgresStore{pool: pool}
	return &Storage{
		Repositories:  s.repositories(pool),
		ExchangeRates: &pgExchangeRateRepository{pool: pool},
		Tx:            s,
		close:         pool.Close,
	}
}

func (s *PostgresStore) repositories(db dbtx) Repositories {
	return Repositories{
		JobOffers:       &pgJobOfferRepository{db: db},
		Bids:            &pgBidRepository{db: db},
		Recommendations: &pgRecommendationRepository{db: db},
		Assignments:     &pgAssignmentRepository{db: db},
	}
}

// WithinJobOffer runs fn in a transaction holding the job offer row lock.
// Concurrent callers for the same offer block on SELECT ... FOR UPDATE until
// the holder commits or rolls back.
func (s *PostgresStore) WithinJobOffer(ctx context.Context, jobOfferID uuid.UUID, fn func(ctx context.Context, repos Repositories) error) error {
	lockQuery, lockArgs, err := querybuilder.Select("id").From("job_offers").WhereEqual("id", jobOfferID).ForUpdate().ToSQL()
	if err != nil {
		return err
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockQuery, lockArgs...); err != nil {
			return WrapRepositoryError(err, "lock job offer")
		}
		return fn(ctx, s.repositories(tx))
	})
}

// Amount maps are stored as JSONB objects of decimal strings keyed by
// currency code.
func marshalAmounts(m map[values.Currency]decimal.Decimal) ([]byte, error) {
	if m == nil {
		m = map[values.Currency]decimal.Decimal{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal amounts: %w", err)
	}
	return data, nil
}

func unmarshalAmounts(data []byte) (map[values.Currency]decimal.Decimal, error) {
	m := make(map[values.Currency]decimal.Decimal)
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal amounts: %w", err)
	}
	return m, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	return d, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
