package joboffer

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

type AssignmentMethod string

const (
	MethodBidAcceptance AssignmentMethod = "bid_acceptance"
	MethodFixedPrice    AssignmentMethod = "fixed_price"
)

// Assignment links a job offer to the handyman doing the work
type Assignment struct {
	ID           uuid.UUID        `json:"id"`
	JobOfferID   uuid.UUID        `json:"job_offer_id"`
	HandymanID   uuid.UUID        `json:"handyman_id"`
	ClientID     uuid.UUID        `json:"client_id"`
	BidID        *uuid.UUID       `json:"bid_id,omitempty"`
	AgreedAmount values.Money     `json:"agreed_amount"`
	Method       AssignmentMethod `json:"method"`
	AssignedAt   time.Time        `json:"assigned_at"`
}

// NewBidAssignment records the handyman whose bid was accepted
func NewBidAssignment(j *JobOffer, bidID, handymanID uuid.UUID, amount values.Money) *Assignment {
	id := bidID
	return &Assignment{
		ID:           uuid.New(),
		JobOfferID:   j.ID,
		HandymanID:   handymanID,
		ClientID:     j.ClientID,
		BidID:        &id,
		AgreedAmount: amount,
		Method:       MethodBidAcceptance,
		AssignedAt:   time.Now().UTC(),
	}
}

// NewFixedPriceAssignment records a direct assignment at the offer's fixed price
func NewFixedPriceAssignment(j *JobOffer, handymanID uuid.UUID) *Assignment {
	var amount values.Money
	if j.FixedPrice != nil {
		amount = *j.FixedPrice
	}
	return &Assignment{
		ID:           uuid.New(),
		JobOfferID:   j.ID,
		HandymanID:   handymanID,
		ClientID:     j.ClientID,
		AgreedAmount: amount,
		Method:       MethodFixedPrice,
		AssignedAt:   time.Now().UTC(),
	}
}
