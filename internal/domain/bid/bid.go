package bid

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/errors"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

// ComparisonCurrency is the currency bids are ranked in.
const ComparisonCurrency = values.USD

type Bid struct {
	ID         uuid.UUID `json:"id"`
	JobOfferID uuid.UUID `json:"job_offer_id"`
	BidderID   uuid.UUID `json:"bidder_id"`

	// Amount as submitted, plus the same amount normalized into each
	// settlement currency with the rate in effect at submission.
	Amount           values.Money                        `json:"amount"`
	Normalized       map[values.Currency]decimal.Decimal `json:"normalized_amounts"`
	ExchangeRateUsed decimal.Decimal                     `json:"exchange_rate_used"`
	RateSource       currency.RateSource                 `json:"rate_source"`

	// Terms
	Message           string     `json:"message"`
	EstimatedDuration string     `json:"estimated_duration"`
	ProposedStartDate *time.Time `json:"proposed_start_date,omitempty"`
	Availability      string     `json:"availability"`

	Status           Status `json:"status"`
	IsCurrentHighest bool   `json:"is_current_highest"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Status string

const (
	StatusActive    Status = "active"
	StatusOutbid    Status = "outbid"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusWithdrawn
}

// IsLive reports whether the bid still contends for the job: active bids and
// bids that were outbid but neither withdrawn nor decided.
func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusOutbid
}

// ParseStatus converts a stored value into a Status
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusActive, StatusOutbid, StatusAccepted, StatusRejected, StatusWithdrawn:
		return st, nil
	}
	return "", errors.NewValidationError(errors.CodeInvalidInput, "unknown bid status: "+s)
}

// validTransitions lists every allowed (from -> to) pair. Terminal states
// have no entry.
var validTransitions = map[Status][]Status{
	StatusActive: {StatusOutbid, StatusAccepted, StatusRejected, StatusWithdrawn},
	StatusOutbid: {StatusRejected, StatusWithdrawn},
}

// CanTransition returns true when moving from -> to is permitted
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terms are the free-form parts of a bid
type Terms struct {
	Message           string
	EstimatedDuration string
	ProposedStartDate *time.Time
	Availability      string
}

// NewBid creates an active bid. Normalized must contain ComparisonCurrency.
func NewBid(jobOfferID, bidderID uuid.UUID, amount values.Money, normalized map[values.Currency]decimal.Decimal, rateUsed decimal.Decimal, source currency.RateSource, terms Terms) (*Bid, error) {
	if jobOfferID == uuid.Nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "job offer ID is required")
	}
	if bidderID == uuid.Nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "bidder ID is required")
	}
	if !amount.IsPositive() {
		return nil, errors.NewInvalidAmountError("bid amount must be greater than zero")
	}
	if _, ok := normalized[ComparisonCurrency]; !ok {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "bid is missing its USD-normalized amount")
	}

	now := time.Now().UTC()
	return &Bid{
		ID:                uuid.New(),
		JobOfferID:        jobOfferID,
		BidderID:          bidderID,
		Amount:            amount,
		Normalized:        normalized,
		ExchangeRateUsed:  rateUsed,
		RateSource:        source,
		Message:           terms.Message,
		EstimatedDuration: terms.EstimatedDuration,
		ProposedStartDate: terms.ProposedStartDate,
		Availability:      terms.Availability,
		Status:            StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// AmountIn returns the normalized amount in c
func (b *Bid) AmountIn(c values.Currency) (decimal.Decimal, bool) {
	if b.Amount.Currency() == c {
		return b.Amount.Amount(), true
	}
	v, ok := b.Normalized[c]
	return v, ok
}

// AmountUSD is the ranking amount
func (b *Bid) AmountUSD() decimal.Decimal {
	v, _ := b.AmountIn(values.USD)
	return v
}

func (b *Bid) AmountCOP() decimal.Decimal {
	v, _ := b.AmountIn(values.COP)
	return v
}

// Outranks reports whether b strictly beats other. Equal amounts do not
// supersede: the earlier bid keeps priority.
func (b *Bid) Outranks(other *Bid) bool {
	if other == nil {
		return true
	}
	return b.AmountUSD().GreaterThan(other.AmountUSD())
}

func (b *Bid) transition(to Status) error {
	if !CanTransition(b.Status, to) {
		return errors.NewInvalidTransitionError(b.Status.String(), to.String())
	}
	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkOutbid demotes the current highest bid
func (b *Bid) MarkOutbid() error {
	if err := b.transition(StatusOutbid); err != nil {
		return err
	}
	b.IsCurrentHighest = false
	return nil
}

// Promote flags an active bid as the current highest
func (b *Bid) Promote() error {
	if b.Status != StatusActive {
		return errors.ErrBidNotActive
	}
	b.IsCurrentHighest = true
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (b *Bid) Accept() error {
	if b.Status != StatusActive {
		return errors.NewConflictError(errors.CodeBidNotActive, "only active bids can be accepted")
	}
	if err := b.transition(StatusAccepted); err != nil {
		return err
	}
	b.IsCurrentHighest = false
	return nil
}

func (b *Bid) Reject() error {
	if err := b.transition(StatusRejected); err != nil {
		return err
	}
	b.IsCurrentHighest = false
	return nil
}

// Withdraw cancels a live bid on the bidder's behalf
func (b *Bid) Withdraw() error {
	if !b.Status.IsLive() {
		return errors.NewConflictError(errors.CodeBidNotActive, "only live bids can be withdrawn")
	}
	if err := b.transition(StatusWithdrawn); err != nil {
		return err
	}
	b.IsCurrentHighest = false
	return nil
}

// SelectHighest returns the active bid with the greatest USD amount, the
// earliest one winning ties. Nil when no bid is active.
func SelectHighest(bids []*Bid) *Bid {
	var best *Bid
	for _, b := range bids {
		if b.Status != StatusActive {
			continue
		}
		if best == nil || b.Outranks(best) ||
			(b.AmountUSD().Equal(best.AmountUSD()) && b.CreatedAt.Before(best.CreatedAt)) {
			best = b
		}
	}
	return best
}

// Clone returns a deep copy so stores can hand out bids without aliasing
func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	c := *b
	if b.Normalized != nil {
		c.Normalized = make(map[values.Currency]decimal.Decimal, len(b.Normalized))
		for k, v := range b.Normalized {
			c.Normalized[k] = v
		}
	}
	if b.ProposedStartDate != nil {
		t := *b.ProposedStartDate
		c.ProposedStartDate = &t
	}
	return &c
}
