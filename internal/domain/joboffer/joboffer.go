// Package joboffer models a client's posted job and its lifecycle.
//
// Valid status graph:
//
//	open ──► in_progress ──► completed
//	              │
//	              └────────► cancelled
//
// completed and cancelled are terminal states.
package joboffer

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/errors"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

type JobType string

const (
	JobTypeFixedPrice  JobType = "fixed_price"
	JobTypeBidsAllowed JobType = "bids_allowed"
)

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// validTransitions lists every allowed (from -> to) pair.
var validTransitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// IsTransitionAllowed returns true when moving from -> to is permitted
func IsTransitionAllowed(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus converts a stored value to a Status
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", errors.NewValidationError(errors.CodeInvalidInput, "unknown job offer status: "+s)
}

// requiresAssignee reports whether a status carries an assigned handyman
func (s Status) requiresAssignee() bool {
	return s == StatusInProgress || s == StatusCompleted
}

// Budget is the client's expected price range
type Budget struct {
	Min      decimal.Decimal `json:"min"`
	Max      decimal.Decimal `json:"max"`
	Currency values.Currency `json:"currency"`
}

func NewBudget(min, max decimal.Decimal, currency values.Currency) (Budget, error) {
	b := Budget{Min: min, Max: max, Currency: currency}
	if err := b.Validate(); err != nil {
		return Budget{}, err
	}
	return b, nil
}

func (b Budget) Validate() error {
	if err := b.Currency.Validate(); err != nil {
		return err
	}
	if b.Min.IsNegative() {
		return errors.NewValidationError(errors.CodeInvalidBudget, "budget minimum cannot be negative")
	}
	if !b.Max.GreaterThan(b.Min) {
		return errors.ErrInvalidBudget
	}
	return nil
}

type Location struct {
	Point   values.GeoPoint `json:"point"`
	Address string          `json:"address"`
	City    string          `json:"city"`
	Country string          `json:"country"`
}

type JobOffer struct {
	ID          uuid.UUID `json:"id"`
	ClientID    uuid.UUID `json:"client_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Location    Location  `json:"location"`

	JobType     JobType       `json:"job_type"`
	Budget      Budget        `json:"budget"`
	FixedPrice  *values.Money `json:"fixed_price,omitempty"`
	AcceptsBids bool          `json:"accepts_bids"`

	Urgency          Urgency  `json:"urgency"`
	RequiredSkills   []string `json:"required_skills"`
	TargetCategories []string `json:"target_categories"`

	// Window during which nearby handymen are alerted about the offer
	AlertStartTime *time.Time `json:"alert_start_time,omitempty"`
	AlertEndTime   *time.Time `json:"alert_end_time,omitempty"`

	Status     Status     `json:"status"`
	AssignedTo *uuid.UUID `json:"assigned_to,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Draft carries the client-supplied fields of a new offer
type Draft struct {
	ClientID         uuid.UUID
	Title            string
	Description      string
	Category         string
	Location         Location
	JobType          JobType
	Budget           Budget
	FixedPrice       *values.Money
	Urgency          Urgency
	RequiredSkills   []string
	TargetCategories []string
	AlertStartTime   *time.Time
	AlertEndTime     *time.Time
}

// NewJobOffer creates an open offer. Bids are accepted exactly when the
// offer is of type bids_allowed.
func NewJobOffer(d Draft) (*JobOffer, error) {
	if d.ClientID == uuid.Nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "client ID is required")
	}
	if strings.TrimSpace(d.Title) == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "title is required")
	}
	urgency := d.Urgency
	if urgency == "" {
		urgency = UrgencyMedium
	}

	now := time.Now().UTC()
	j := &JobOffer{
		ID:               uuid.New(),
		ClientID:         d.ClientID,
		Title:            strings.TrimSpace(d.Title),
		Description:      d.Description,
		Category:         d.Category,
		Location:         d.Location,
		JobType:          d.JobType,
		Budget:           d.Budget,
		FixedPrice:       d.FixedPrice,
		AcceptsBids:      d.JobType == JobTypeBidsAllowed,
		Urgency:          urgency,
		RequiredSkills:   d.RequiredSkills,
		TargetCategories: d.TargetCategories,
		AlertStartTime:   d.AlertStartTime,
		AlertEndTime:     d.AlertEndTime,
		Status:           StatusOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return j, nil
}

// Validate checks the structural invariants of an offer
func (j *JobOffer) Validate() error {
	switch j.JobType {
	case JobTypeFixedPrice:
		if j.FixedPrice == nil || !j.FixedPrice.IsPositive() {
			return errors.NewValidationError(errors.CodeInvalidInput, "fixed price offers need a positive fixed price")
		}
		if j.AcceptsBids {
			return errors.NewValidationError(errors.CodeInvalidInput, "fixed price offers cannot accept bids")
		}
	case JobTypeBidsAllowed:
	default:
		return errors.NewValidationError(errors.CodeInvalidInput, "unknown job type: "+string(j.JobType))
	}

	switch j.Urgency {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
	default:
		return errors.NewValidationError(errors.CodeInvalidInput, "unknown urgency: "+string(j.Urgency))
	}

	if err := j.Budget.Validate(); err != nil {
		return err
	}
	if err := j.Location.Point.Validate(); err != nil {
		return errors.NewValidationError(errors.CodeInvalidInput, err.Error())
	}
	if j.AlertStartTime != nil && j.AlertEndTime != nil && j.AlertEndTime.Before(*j.AlertStartTime) {
		return errors.NewValidationError(errors.CodeInvalidInput, "alert window ends before it starts")
	}
	if j.Status.requiresAssignee() != (j.AssignedTo != nil) {
		return errors.NewBusinessError(errors.CodeInvalidTransition, "assignee must be set exactly while in progress or completed")
	}
	return nil
}

// IsBiddable reports whether bids may currently be placed
func (j *JobOffer) IsBiddable() bool {
	return j.Status == StatusOpen && j.AcceptsBids && j.JobType == JobTypeBidsAllowed
}

func (j *JobOffer) transition(to Status) error {
	if !IsTransitionAllowed(j.Status, to) {
		return errors.NewInvalidTransitionError(j.Status.String(), to.String())
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	j.Version++
	return nil
}

// Assign commits the offer to a single handyman
func (j *JobOffer) Assign(handymanID uuid.UUID) error {
	if handymanID == uuid.Nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "handyman ID is required")
	}
	if err := j.transition(StatusInProgress); err != nil {
		return err
	}
	j.AssignedTo = &handymanID
	return nil
}

func (j *JobOffer) Complete() error {
	return j.transition(StatusCompleted)
}

// Cancel ends an in-progress job. The assignee is released.
func (j *JobOffer) Cancel() error {
	if err := j.transition(StatusCancelled); err != nil {
		return err
	}
	j.AssignedTo = nil
	return nil
}

// UpdateBudget replaces the budget of an open offer
func (j *JobOffer) UpdateBudget(b Budget) error {
	if j.Status != StatusOpen {
		return errors.NewJobNotBiddableError("budget can only change while the offer is open")
	}
	if err := b.Validate(); err != nil {
		return err
	}
	j.Budget = b
	j.UpdatedAt = time.Now().UTC()
	j.Version++
	return nil
}

// IsOwnedBy reports whether clientID posted the offer
func (j *JobOffer) IsOwnedBy(clientID uuid.UUID) bool {
	return j.ClientID == clientID
}

// InAlertWindow reports whether at falls inside the alerting window. Open
// bounds are unbounded.
func (j *JobOffer) InAlertWindow(at time.Time) bool {
	if j.AlertStartTime != nil && at.Before(*j.AlertStartTime) {
		return false
	}
	if j.AlertEndTime != nil && at.After(*j.AlertEndTime) {
		return false
	}
	return true
}

// MatchesCategory is true when category is empty, equals the offer category
// or is one of its target categories. Comparison ignores case.
func (j *JobOffer) MatchesCategory(category string) bool {
	if category == "" {
		return true
	}
	if strings.EqualFold(j.Category, category) {
		return true
	}
	for _, c := range j.TargetCategories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (j *JobOffer) Clone() *JobOffer {
	if j == nil {
		return nil
	}
	c := *j
	if j.FixedPrice != nil {
		fp := *j.FixedPrice
		c.FixedPrice = &fp
	}
	if j.AssignedTo != nil {
		a := *j.AssignedTo
		c.AssignedTo = &a
	}
	if j.AlertStartTime != nil {
		t := *j.AlertStartTime
		c.AlertStartTime = &t
	}
	if j.AlertEndTime != nil {
		t := *j.AlertEndTime
		c.AlertEndTime = &t
	}
	c.RequiredSkills = append([]string(nil), j.RequiredSkills...)
	c.TargetCategories = append([]string(nil), j.TargetCategories...)
	return &c
}
