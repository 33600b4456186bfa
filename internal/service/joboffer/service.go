// Package joboffer drives job offers through their lifecycle: posting,
// bid acceptance or fixed price assignment, budget changes, completion and
// cancellation. It also answers geo queries for handymen.
package joboffer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/bid"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/errors"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/joboffer"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/validation"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/repository"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/handyman-marketplace-backend/internal/metrics"
	"github.com/davidleathers/handyman-marketplace-backend/internal/service/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/service/notification"
)

const serviceName = "joboffer"

// Config holds the job offer settings
type Config struct {
	// Currencies the budget is expressed in when bidders are notified
	Currencies      []values.Currency
	DefaultRadiusKM float64
}

func DefaultConfig() Config {
	return Config{
		Currencies:      []values.Currency{values.USD, values.COP},
		DefaultRadiusKM: 25,
	}
}

// Dependencies are the collaborators of the job offer service. Metrics is
// optional.
type Dependencies struct {
	Repositories repository.Repositories
	Tx           repository.TxManager
	Converter    Converter
	Notifier     notification.Notifier
	Metrics      *metrics.Registry
	Logger       *zap.Logger
}

type service struct {
	repos     repository.Repositories
	tx        repository.TxManager
	converter Converter
	notifier  notification.Notifier
	metrics   *metrics.Registry
	logger    *zap.Logger
	config    Config
}

// NewService creates a job offer service
func NewService(deps Dependencies, cfg Config) Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}

	def := DefaultConfig()
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = def.Currencies
	}
	if cfg.DefaultRadiusKM <= 0 {
		cfg.DefaultRadiusKM = def.DefaultRadiusKM
	}

	return &service{
		repos:     deps.Repositories,
		tx:        deps.Tx,
		converter: deps.Converter,
		notifier:  notifier,
		metrics:   deps.Metrics,
		logger:    logger.Named(serviceName),
		config:    cfg,
	}
}

func (s *service) Create(ctx context.Context, req *CreateJobOfferRequest) (*joboffer.JobOffer, error) {
	if req == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "request is required")
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	draft, err := req.draft()
	if err != nil {
		return nil, err
	}
	offer, err := joboffer.NewJobOffer(draft)
	if err != nil {
		return nil, err
	}

	if err := s.repos.JobOffers.Create(ctx, offer); err != nil {
		return nil, fmt.Errorf("storing job offer: %w", err)
	}

	s.metrics.RecordJobOfferTransition(ctx, offer.Status.String())
	s.logger.Info("job offer created",
		zap.String("job_offer_id", offer.ID.String()),
		zap.String("client_id", offer.ClientID.String()),
		zap.String("job_type", string(offer.JobType)),
		zap.String("category", offer.Category))

	return offer, nil
}

func (r *CreateJobOfferRequest) draft() (joboffer.Draft, error) {
	cur, err := values.ParseCurrency(r.Currency)
	if err != nil {
		return joboffer.Draft{}, errors.NewValidationError(errors.CodeInvalidCurrency, err.Error())
	}

	d := joboffer.Draft{
		ClientID:    r.ClientID,
		Title:       r.Title,
		Description: r.Description,
		Category:    strings.ToLower(strings.TrimSpace(r.Category)),
		Location: joboffer.Location{
			Point:   values.GeoPoint{Lat: r.Latitude, Lng: r.Longitude},
			Address: r.Address,
			City:    r.City,
			Country: strings.ToUpper(r.Country),
		},
		JobType:          joboffer.JobType(r.JobType),
		Budget:           joboffer.Budget{Min: r.BudgetMin, Max: r.BudgetMax, Currency: cur},
		Urgency:          joboffer.Urgency(r.Urgency),
		RequiredSkills:   r.RequiredSkills,
		TargetCategories: r.TargetCategories,
		AlertStartTime:   r.AlertStartTime,
		AlertEndTime:     r.AlertEndTime,
	}

	if r.FixedPrice != nil {
		price, err := values.NewMoney(*r.FixedPrice, cur)
		if err != nil {
			return joboffer.Draft{}, errors.NewValidationError(errors.CodeInvalidAmount, err.Error())
		}
		d.FixedPrice = &price
	}
	return d, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*joboffer.JobOffer, error) {
	offer, err := s.repos.JobOffers.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "job offer")
	}
	return offer, nil
}

// acceptance is what AcceptBid decided inside the transaction
type acceptance struct {
	assignment *joboffer.Assignment
	winner     *bid.Bid
	losers     []*bid.Bid
}

func (s *service) AcceptBid(ctx context.Context, bidID, clientID uuid.UUID) (*joboffer.Assignment, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "AcceptBid",
		attribute.String("bid_id", bidID.String()))
	defer span.End()

	b, err := s.repos.Bids.GetByID(ctx, bidID)
	if err != nil {
		err = notFoundOr(err, "bid")
		telemetry.WithSpanError(span, err)
		return nil, err
	}

	var a acceptance
	err = s.tx.WithinJobOffer(ctx, b.JobOfferID, func(ctx context.Context, repos repository.Repositories) error {
		offer, err := repos.JobOffers.GetByID(ctx, b.JobOfferID)
		if err != nil {
			return notFoundOr(err, "job offer")
		}
		if !offer.IsOwnedBy(clientID) {
			return errors.NewUnauthorizedError("only the job owner can accept bids")
		}
		if offer.Status != joboffer.StatusOpen {
			return errors.NewJobNotBiddableError("job offer is no longer open").
				WithDetail("status", offer.Status.String())
		}

		bids, err := repos.Bids.ListByJobOffer(ctx, offer.ID)
		if err != nil {
			return fmt.Errorf("listing bids: %w", err)
		}

		for _, candidate := range bids {
			if candidate.ID != bidID {
				continue
			}
			if err := candidate.Accept(); err != nil {
				return err
			}
			if err := repos.Bids.Update(ctx, candidate); err != nil {
				return fmt.Errorf("accepting bid: %w", err)
			}
			a.winner = candidate
		}
		if a.winner == nil {
			return errors.NewNotFoundError("bid")
		}

		for _, other := range bids {
			if other.ID == bidID || !other.Status.IsLive() {
				continue
			}
			if err := other.Reject(); err != nil {
				return err
			}
			if err := repos.Bids.Update(ctx, other); err != nil {
				return fmt.Errorf("rejecting bid: %w", err)
			}
			a.losers = append(a.losers, other)
		}

		if err := offer.Assign(a.winner.BidderID); err != nil {
			return err
		}
		if err := repos.JobOffers.Update(ctx, offer); err != nil {
			return fmt.Errorf("updating job offer: %w", err)
		}

		a.assignment = joboffer.NewBidAssignment(offer, a.winner.ID, a.winner.BidderID, a.winner.Amount)
		if err := repos.Assignments.Create(ctx, a.assignment); err != nil {
			return fmt.Errorf("storing assignment: %w", err)
		}
		return nil
	})
	if err != nil {
		telemetry.WithSpanError(span, err)
		return nil, err
	}

	s.metrics.RecordBidTransition(ctx, bid.StatusAccepted.String())
	s.metrics.RecordJobOfferTransition(ctx, joboffer.StatusInProgress.String())
	s.logger.Info("bid accepted",
		zap.String("bid_id", a.winner.ID.String()),
		zap.String("job_offer_id", a.winner.JobOfferID.String()),
		zap.String("handyman_id", a.winner.BidderID.String()),
		zap.Int("rejected", len(a.losers)))

	s.notifier.Notify(ctx, a.winner.BidderID, notification.KindBidAccepted, map[string]interface{}{
		"job_offer_id":  a.winner.JobOfferID.String(),
		"bid_id":        a.winner.ID.String(),
		"assignment_id": a.assignment.ID.String(),
		"amount":        a.winner.Amount.Amount().String(),
		"currency":      a.winner.Amount.Currency().String(),
	})
	for _, loser := range a.losers {
		s.metrics.RecordBidTransition(ctx, bid.StatusRejected.String())
		s.notifier.Notify(ctx, loser.BidderID, notification.KindBidRejected, map[string]interface{}{
			"job_offer_id": loser.JobOfferID.String(),
			"bid_id":       loser.ID.String(),
		})
	}

	return a.assignment, nil
}

func (s *service) AssignFixedPrice(ctx context.Context, jobOfferID, handymanID uuid.UUID) (*joboffer.Assignment, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "AssignFixedPrice",
		attribute.String("job_offer_id", jobOfferID.String()))
	defer span.End()

	var (
		offer      *joboffer.JobOffer
		assignment *joboffer.Assignment
	)
	err := s.tx.WithinJobOffer(ctx, jobOfferID, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		offer, err = repos.JobOffers.GetByID(ctx, jobOfferID)
		if err != nil {
			return notFoundOr(err, "job offer")
		}
		if offer.JobType != joboffer.JobTypeFixedPrice {
			return errors.NewValidationError(errors.CodeInvalidInput, "job offer is not a fixed price job")
		}
		if err := offer.Assign(handymanID); err != nil {
			return err
		}
		if err := repos.JobOffers.Update(ctx, offer); err != nil {
			return fmt.Errorf("updating job offer: %w", err)
		}

		assignment = joboffer.NewFixedPriceAssignment(offer, handymanID)
		if err := repos.Assignments.Create(ctx, assignment); err != nil {
			return fmt.Errorf("storing assignment: %w", err)
		}
		return nil
	})
	if err != nil {
		telemetry.WithSpanError(span, err)
		return nil, err
	}

	s.metrics.RecordJobOfferTransition(ctx, joboffer.StatusInProgress.String())
	s.logger.Info("fixed price job assigned",
		zap.String("job_offer_id", offer.ID.String()),
		zap.String("handyman_id", handymanID.String()))

	s.notifier.Notify(ctx, offer.ClientID, notification.KindJobAssigned, map[string]interface{}{
		"job_offer_id":  offer.ID.String(),
		"handyman_id":   handymanID.String(),
		"assignment_id": assignment.ID.String(),
		"amount":        assignment.AgreedAmount.Amount().String(),
		"currency":      assignment.AgreedAmount.Currency().String(),
	})
	return assignment, nil
}

func (s *service) UpdateBudget(ctx context.Context, req *UpdateBudgetRequest) (*joboffer.JobOffer, error) {
	if req == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "request is required")
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	cur, err := values.ParseCurrency(req.Currency)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidCurrency, err.Error())
	}
	budget, err := joboffer.NewBudget(req.Min, req.Max, cur)
	if err != nil {
		return nil, err
	}

	var (
		offer   *joboffer.JobOffer
		bidders []uuid.UUID
	)
	err = s.tx.WithinJobOffer(ctx, req.JobOfferID, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		offer, err = repos.JobOffers.GetByID(ctx, req.JobOfferID)
		if err != nil {
			return notFoundOr(err, "job offer")
		}
		if !offer.IsOwnedBy(req.ClientID) {
			return errors.NewUnauthorizedError("only the job owner can change the budget")
		}
		if err := offer.UpdateBudget(budget); err != nil {
			return err
		}
		if err := repos.JobOffers.Update(ctx, offer); err != nil {
			return fmt.Errorf("updating job offer: %w", err)
		}

		bids, err := repos.Bids.ListByJobOffer(ctx, offer.ID)
		if err != nil {
			return fmt.Errorf("listing bids: %w", err)
		}
		for _, b := range bids {
			if b.Status == bid.StatusActive {
				bidders = append(bidders, b.BidderID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("job offer budget updated",
		zap.String("job_offer_id", offer.ID.String()),
		zap.String("min", budget.Min.String()),
		zap.String("max", budget.Max.String()),
		zap.String("currency", budget.Currency.String()),
		zap.Int("bidders_notified", len(bidders)))

	if len(bidders) > 0 {
		payload := s.budgetPayload(ctx, offer)
		for _, bidderID := range bidders {
			s.notifier.Notify(ctx, bidderID, notification.KindBudgetUpdated, payload)
		}
	}
	return offer, nil
}

// budgetPayload expresses the budget in every configured currency.
// Conversion failures leave that currency out.
func (s *service) budgetPayload(ctx context.Context, offer *joboffer.JobOffer) map[string]interface{} {
	b := offer.Budget
	payload := map[string]interface{}{
		"job_offer_id": offer.ID.String(),
		"min":          b.Min.String(),
		"max":          b.Max.String(),
		"currency":     b.Currency.String(),
	}
	if s.converter == nil {
		return payload
	}

	for _, target := range s.config.Currencies {
		minConv, err := s.converter.Convert(ctx, b.Min, b.Currency, target)
		if err == nil {
			var maxConv *currency.Conversion
			if maxConv, err = s.converter.Convert(ctx, b.Max, b.Currency, target); err == nil {
				suffix := strings.ToLower(target.String())
				payload["min_"+suffix] = minConv.Amount.Round(target.Places()).String()
				payload["max_"+suffix] = maxConv.Amount.Round(target.Places()).String()
				continue
			}
		}
		s.logger.Warn("budget conversion failed",
			zap.String("job_offer_id", offer.ID.String()),
			zap.String("target", target.String()),
			zap.Error(err))
	}
	return payload
}

func (s *service) Complete(ctx context.Context, jobOfferID, clientID uuid.UUID) (*joboffer.JobOffer, error) {
	return s.finish(ctx, jobOfferID, clientID, joboffer.StatusCompleted)
}

func (s *service) Cancel(ctx context.Context, jobOfferID, clientID uuid.UUID) (*joboffer.JobOffer, error) {
	return s.finish(ctx, jobOfferID, clientID, joboffer.StatusCancelled)
}

// finish moves an in-progress offer to a terminal status on its owner's behalf
func (s *service) finish(ctx context.Context, jobOfferID, clientID uuid.UUID, to joboffer.Status) (*joboffer.JobOffer, error) {
	var (
		offer    *joboffer.JobOffer
		assignee *uuid.UUID
	)
	err := s.tx.WithinJobOffer(ctx, jobOfferID, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		offer, err = repos.JobOffers.GetByID(ctx, jobOfferID)
		if err != nil {
			return notFoundOr(err, "job offer")
		}
		if !offer.IsOwnedBy(clientID) {
			return errors.NewUnauthorizedError("only the job owner can close the job")
		}
		assignee = offer.AssignedTo

		switch to {
		case joboffer.StatusCompleted:
			err = offer.Complete()
		case joboffer.StatusCancelled:
			err = offer.Cancel()
		default:
			err = errors.NewInvalidTransitionError(offer.Status.String(), to.String())
		}
		if err != nil {
			return err
		}
		if err := repos.JobOffers.Update(ctx, offer); err != nil {
			return fmt.Errorf("updating job offer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordJobOfferTransition(ctx, to.String())
	fields := []zap.Field{
		zap.String("job_offer_id", offer.ID.String()),
		zap.String("status", to.String()),
	}
	if assignee != nil {
		fields = append(fields, zap.String("handyman_id", assignee.String()))
	}
	s.logger.Info("job offer closed", fields...)

	return offer, nil
}

func (s *service) FindNearby(ctx context.Context, q NearbyQuery) ([]NearbyOffer, error) {
	if err := q.Origin.Validate(); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, err.Error())
	}
	radius := q.RadiusKM
	if radius < 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "radius cannot be negative")
	}
	if radius == 0 {
		radius = s.config.DefaultRadiusKM
	}

	open := joboffer.StatusOpen
	offers, err := s.repos.JobOffers.List(ctx, repository.JobOfferFilter{Status: &open})
	if err != nil {
		return nil, fmt.Errorf("listing open job offers: %w", err)
	}

	var out []NearbyOffer
	for _, offer := range offers {
		if !offer.MatchesCategory(q.Category) {
			continue
		}
		if q.At != nil && !offer.InAlertWindow(*q.At) {
			continue
		}
		distance := q.Origin.DistanceTo(offer.Location.Point)
		if distance > radius {
			continue
		}
		out = append(out, NearbyOffer{JobOffer: offer, DistanceKM: distance})
	}

	sort.SliceStable(out, func(i, k int) bool { return out[i].DistanceKM < out[k].DistanceKM })
	return out, nil
}

// notFoundOr maps a repository miss to a domain not found error
func notFoundOr(err error, resource string) error {
	if repository.IsNotFound(err) {
		return errors.NewNotFoundError(resource).WithCause(err)
	}
	return err
}
