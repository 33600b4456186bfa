package fixtures

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/joboffer"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

// Bogotá, used as the default job location
var DefaultLocation = values.GeoPoint{Lat: 4.7110, Lng: -74.0721}

// JobOfferBuilder builds test JobOffer entities
type JobOfferBuilder struct {
	draft joboffer.Draft
}

// NewJobOfferBuilder creates a bids-allowed offer with a 50-150 USD budget
func NewJobOfferBuilder() *JobOfferBuilder {
	return &JobOfferBuilder{
		draft: joboffer.Draft{
			ClientID:    uuid.New(),
			Title:       "Fix leaking kitchen sink",
			Description: "Water pools under the cabinet after every use",
			Category:    "plumbing",
			Location: joboffer.Location{
				Point:   DefaultLocation,
				Address: "Calle 93 #11-26",
				City:    "Bogotá",
				Country: "CO",
			},
			JobType: joboffer.JobTypeBidsAllowed,
			Budget: joboffer.Budget{
				Min:      decimal.NewFromInt(50),
				Max:      decimal.NewFromInt(150),
				Currency: values.USD,
			},
			Urgency:        joboffer.UrgencyMedium,
			RequiredSkills: []string{"pipes"},
		},
	}
}

// WithClientID sets the owning client
func (b *JobOfferBuilder) WithClientID(id uuid.UUID) *JobOfferBuilder {
	b.draft.ClientID = id
	return b
}

// WithBudget sets the budget range
func (b *JobOfferBuilder) WithBudget(min, max int64, currency values.Currency) *JobOfferBuilder {
	b.draft.Budget = joboffer.Budget{
		Min:      decimal.NewFromInt(min),
		Max:      decimal.NewFromInt(max),
		Currency: currency,
	}
	return b
}

// WithFixedPrice turns the offer into a fixed-price job
func (b *JobOfferBuilder) WithFixedPrice(amount int64, currency values.Currency) *JobOfferBuilder {
	price := values.MustNewMoney(decimal.NewFromInt(amount), currency)
	b.draft.JobType = joboffer.JobTypeFixedPrice
	b.draft.FixedPrice = &price
	return b
}

// WithCategory sets the primary category
func (b *JobOfferBuilder) WithCategory(category string, targets ...string) *JobOfferBuilder {
	b.draft.Category = category
	b.draft.TargetCategories = targets
	return b
}

// WithLocation sets the job coordinates
func (b *JobOfferBuilder) WithLocation(lat, lng float64) *JobOfferBuilder {
	b.draft.Location.Point = values.GeoPoint{Lat: lat, Lng: lng}
	return b
}

// WithAlertWindow sets the alert window relative to now
func (b *JobOfferBuilder) WithAlertWindow(from, to time.Duration) *JobOfferBuilder {
	now := time.Now().UTC()
	start, end := now.Add(from), now.Add(to)
	b.draft.AlertStartTime = &start
	b.draft.AlertEndTime = &end
	return b
}

// Draft returns the accumulated draft
func (b *JobOfferBuilder) Draft() joboffer.Draft {
	return b.draft
}

// Build creates the JobOffer entity
func (b *JobOfferBuilder) Build(t *testing.T) *joboffer.JobOffer {
	t.Helper()
	j, err := joboffer.NewJobOffer(b.draft)
	require.NoError(t, err)
	return j
}

// BuildWithRepo creates the JobOffer entity and saves it using the provided repository
func (b *JobOfferBuilder) BuildWithRepo(t *testing.T, ctx context.Context, repo interface {
	Create(ctx context.Context, j *joboffer.JobOffer) error
}) *joboffer.JobOffer {
	t.Helper()
	j := b.Build(t)
	require.NoError(t, repo.Create(ctx, j))
	return j
}
