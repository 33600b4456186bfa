package joboffer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/joboffer"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/service/currency"
)

// Service manages the lifecycle of job offers
type Service interface {
	// Create posts a new open job offer
	Create(ctx context.Context, req *CreateJobOfferRequest) (*joboffer.JobOffer, error)

	// Get returns a job offer by ID
	Get(ctx context.Context, id uuid.UUID) (*joboffer.JobOffer, error)

	// AcceptBid assigns the job to the bidder and rejects every other live bid
	AcceptBid(ctx context.Context, bidID, clientID uuid.UUID) (*joboffer.Assignment, error)

	// AssignFixedPrice assigns a fixed price job directly to a handyman
	AssignFixedPrice(ctx context.Context, jobOfferID, handymanID uuid.UUID) (*joboffer.Assignment, error)

	// UpdateBudget replaces the budget of an open offer
	UpdateBudget(ctx context.Context, req *UpdateBudgetRequest) (*joboffer.JobOffer, error)

	// Complete marks an in-progress job done
	Complete(ctx context.Context, jobOfferID, clientID uuid.UUID) (*joboffer.JobOffer, error)

	// Cancel ends an in-progress job and releases the handyman
	Cancel(ctx context.Context, jobOfferID, clientID uuid.UUID) (*joboffer.JobOffer, error)

	// FindNearby lists open offers around a point, nearest first
	FindNearby(ctx context.Context, q NearbyQuery) ([]NearbyOffer, error)
}

// Converter converts budget bounds for notification payloads
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to values.Currency) (*currency.Conversion, error)
}

// CreateJobOfferRequest represents a client posting a job
type CreateJobOfferRequest struct {
	ClientID    uuid.UUID `json:"client_id" validate:"required"`
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	Category    string    `json:"category" validate:"required,max=100"`

	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Address   string  `json:"address" validate:"max=300"`
	City      string  `json:"city" validate:"max=100"`
	Country   string  `json:"country" validate:"omitempty,len=2"`

	JobType        string           `json:"job_type" validate:"required,oneof=fixed_price bids_allowed"`
	BudgetMin      decimal.Decimal  `json:"budget_min"`
	BudgetMax      decimal.Decimal  `json:"budget_max"`
	Currency       string           `json:"currency" validate:"required,iso4217"`
	FixedPrice     *decimal.Decimal `json:"fixed_price,omitempty"`
	Urgency        string           `json:"urgency" validate:"omitempty,oneof=low medium high"`
	RequiredSkills []string         `json:"required_skills" validate:"max=20,dive,max=50"`

	TargetCategories []string   `json:"target_categories" validate:"max=10,dive,max=100"`
	AlertStartTime   *time.Time `json:"alert_start_time,omitempty"`
	AlertEndTime     *time.Time `json:"alert_end_time,omitempty"`
}

// UpdateBudgetRequest replaces an offer's budget range
type UpdateBudgetRequest struct {
	JobOfferID uuid.UUID       `json:"job_offer_id" validate:"required"`
	ClientID   uuid.UUID       `json:"client_id" validate:"required"`
	Min        decimal.Decimal `json:"min"`
	Max        decimal.Decimal `json:"max"`
	Currency   string          `json:"currency" validate:"required,iso4217"`
}

// NearbyQuery selects open offers around Origin. A zero RadiusKM uses the
// configured default; a nil At skips the alert window check.
type NearbyQuery struct {
	Origin   values.GeoPoint
	RadiusKM float64
	Category string
	At       *time.Time
}

// NearbyOffer is a job offer with its distance from the query origin
type NearbyOffer struct {
	JobOffer   *joboffer.JobOffer `json:"job_offer"`
	DistanceKM float64            `json:"distance_km"`
}
