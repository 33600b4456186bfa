// Package bidding is the bid record store: it places and withdraws bids on
// job offers and keeps exactly one current highest bid per offer.
package bidding

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

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
	"github.com/davidleathers/handyman-marketplace-backend/internal/service/notification"
)

const serviceName = "bidding"

// Config holds the bidding settings
type Config struct {
	// Currencies every bid is normalized into. USD is always included
	// because bids are ranked in it.
	Currencies []values.Currency

	AttemptLimit  int
	AttemptWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		Currencies:    []values.Currency{values.USD, values.COP},
		AttemptLimit:  10,
		AttemptWindow: time.Minute,
	}
}

// Dependencies are the collaborators of the bidding service. Limiter and
// Metrics are optional.
type Dependencies struct {
	Repositories repository.Repositories
	Tx           repository.TxManager
	Currency     Normalizer
	Pricing      RecommendationEngine
	Notifier     notification.Notifier
	Limiter      AttemptLimiter
	Metrics      *metrics.Registry
	Logger       *zap.Logger
}

// service implements the Service interface
type service struct {
	repos    repository.Repositories
	tx       repository.TxManager
	currency Normalizer
	pricing  RecommendationEngine
	notifier notification.Notifier
	limiter  AttemptLimiter
	metrics  *metrics.Registry
	logger   *zap.Logger
	config   Config
}

// NewService creates a new bidding service
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
	if !containsCurrency(cfg.Currencies, bid.ComparisonCurrency) {
		cfg.Currencies = append([]values.Currency{bid.ComparisonCurrency}, cfg.Currencies...)
	}
	if cfg.AttemptLimit <= 0 {
		cfg.AttemptLimit = def.AttemptLimit
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = def.AttemptWindow
	}

	return &service{
		repos:    deps.Repositories,
		tx:       deps.Tx,
		currency: deps.Currency,
		pricing:  deps.Pricing,
		notifier: notifier,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		logger:   logger.Named(serviceName),
		config:   cfg,
	}
}

func containsCurrency(list []values.Currency, c values.Currency) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

// placement is what PlaceBid learned inside the transaction
type placement struct {
	bid        *bid.Bid
	offer      *joboffer.JobOffer
	superseded *bid.Bid
}

// PlaceBid validates the request, then inside the job offer's transaction
// checks biddability and duplicates, normalizes the amount, demotes the
// previous highest when the new bid beats it, inserts the bid and
// recomputes the recommendation. Notifications go out after commit.
func (s *service) PlaceBid(ctx context.Context, req *PlaceBidRequest) (*bid.Bid, error) {
	if req == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "request is required")
	}

	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "PlaceBid",
		attribute.String("job_offer_id", req.JobOfferID.String()),
		attribute.String("bidder_id", req.BidderID.String()))
	defer span.End()

	start := time.Now()
	p, err := s.placeBid(ctx, req)
	s.metrics.RecordBidPlacement(ctx, time.Since(start), req.Currency, errorCode(err))
	if err != nil {
		telemetry.WithSpanError(span, err)
		s.logger.Debug("bid rejected",
			zap.String("job_offer_id", req.JobOfferID.String()),
			zap.String("bidder_id", req.BidderID.String()),
			zap.String("code", errorCode(err)))
		return nil, err
	}

	s.logger.Info("bid placed",
		zap.String("bid_id", p.bid.ID.String()),
		zap.String("job_offer_id", p.bid.JobOfferID.String()),
		zap.String("bidder_id", p.bid.BidderID.String()),
		zap.String("amount", p.bid.Amount.StringWithCode()),
		zap.String("amount_usd", p.bid.AmountUSD().String()),
		zap.String("rate_source", string(p.bid.RateSource)),
		zap.Bool("is_current_highest", p.bid.IsCurrentHighest))

	s.afterPlacement(ctx, p)
	return p.bid, nil
}

func (s *service) placeBid(ctx context.Context, req *PlaceBidRequest) (*placement, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	cur, err := values.ParseCurrency(req.Currency)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidCurrency, err.Error())
	}
	amount, err := values.NewMoney(req.Amount, cur)
	if err != nil || !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}

	if err := s.checkAttempts(ctx, req.BidderID); err != nil {
		return nil, err
	}

	var p placement
	err = s.tx.WithinJobOffer(ctx, req.JobOfferID, func(ctx context.Context, repos repository.Repositories) error {
		offer, err := repos.JobOffers.GetByID(ctx, req.JobOfferID)
		if err != nil {
			if repository.IsNotFound(err) {
				return errors.NewJobNotBiddableError("job offer not found").WithCause(err)
			}
			return fmt.Errorf("loading job offer: %w", err)
		}
		if !offer.IsBiddable() {
			return errors.NewJobNotBiddableError("job offer is not accepting bids").
				WithDetail("status", string(offer.Status)).
				WithDetail("accepts_bids", offer.AcceptsBids)
		}

		_, err = repos.Bids.GetActiveByBidder(ctx, offer.ID, req.BidderID)
		switch {
		case err == nil:
			return errors.ErrDuplicateBid
		case !repository.IsNotFound(err):
			return fmt.Errorf("checking for an active bid: %w", err)
		}

		norm, err := s.currency.Normalize(ctx, amount, s.config.Currencies)
		if err != nil {
			return fmt.Errorf("normalizing bid amount: %w", err)
		}

		newBid, err := bid.NewBid(offer.ID, req.BidderID, amount, norm.Amounts, norm.RateUsed, norm.Source, bid.Terms{
			Message:           req.Message,
			EstimatedDuration: req.EstimatedDuration,
			ProposedStartDate: req.ProposedStartDate,
			Availability:      req.Availability,
		})
		if err != nil {
			return err
		}

		current, err := repos.Bids.GetCurrentHighest(ctx, offer.ID)
		if repository.IsNotFound(err) {
			current, err = nil, nil
		}
		if err != nil {
			return fmt.Errorf("loading current highest bid: %w", err)
		}

		if newBid.Outranks(current) {
			// demote first; at most one bid per offer may carry the flag
			if current != nil {
				if err := current.MarkOutbid(); err != nil {
					return err
				}
				if err := repos.Bids.Update(ctx, current); err != nil {
					return fmt.Errorf("demoting previous highest bid: %w", err)
				}
				p.superseded = current
			}
			newBid.IsCurrentHighest = true
		}

		if err := repos.Bids.Create(ctx, newBid); err != nil {
			if stderrors.Is(err, repository.ErrDuplicateKey) {
				return errors.ErrDuplicateBid
			}
			return fmt.Errorf("storing bid: %w", err)
		}

		if _, _, err := s.pricing.Recompute(ctx, repos, offer.ID); err != nil {
			return err
		}

		p.bid = newBid
		p.offer = offer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// checkAttempts applies the per-bidder attempt limit. Limiter failures are
// logged and let the attempt through.
func (s *service) checkAttempts(ctx context.Context, bidderID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, "bid_attempt:"+bidderID.String(), s.config.AttemptLimit, s.config.AttemptWindow)
	if err != nil {
		s.logger.Warn("bid attempt limiter unavailable, allowing attempt",
			zap.String("bidder_id", bidderID.String()),
			zap.Error(err))
		return nil
	}
	if !allowed {
		return errors.NewRateLimitError("too many bid attempts").
			WithDetail("limit", s.config.AttemptLimit).
			WithDetail("window", s.config.AttemptWindow.String())
	}
	return nil
}

func (s *service) afterPlacement(ctx context.Context, p *placement) {
	if !p.bid.IsCurrentHighest {
		return
	}

	s.metrics.RecordHighestChange(ctx, "new_bid")
	s.notifier.Notify(ctx, p.offer.ClientID, notification.KindNewHighBid, bidPayload(p.bid))

	if p.superseded != nil {
		s.metrics.RecordBidTransition(ctx, string(bid.StatusOutbid))
		payload := bidPayload(p.superseded)
		payload["new_highest_usd"] = p.bid.AmountUSD().String()
		s.notifier.Notify(ctx, p.superseded.BidderID, notification.KindOutbid, payload)
	}
}

// bidPayload describes a bid in notification payloads
func bidPayload(b *bid.Bid) map[string]interface{} {
	payload := map[string]interface{}{
		"job_offer_id": b.JobOfferID.String(),
		"bid_id":       b.ID.String(),
		"bidder_id":    b.BidderID.String(),
		"amount":       b.Amount.Amount().String(),
		"currency":     b.Amount.Currency().String(),
	}
	for c, v := range b.Normalized {
		payload["amount_"+strings.ToLower(string(c))] = v.String()
	}
	return payload
}

// withdrawal is what WithdrawBid learned inside the transaction
type withdrawal struct {
	bid      *bid.Bid
	offer    *joboffer.JobOffer
	promoted *bid.Bid
}

// WithdrawBid marks a live bid withdrawn. When it was the current highest,
// the best remaining active bid is promoted in the same transaction.
func (s *service) WithdrawBid(ctx context.Context, bidID, bidderID uuid.UUID) error {
	ctx, span := telemetry.StartServiceSpan(ctx, serviceName, "WithdrawBid",
		attribute.String("bid_id", bidID.String()))
	defer span.End()

	existing, err := s.repos.Bids.GetByID(ctx, bidID)
	if err != nil {
		err = notFoundOr(err, "bid")
		telemetry.WithSpanError(span, err)
		return err
	}

	var w withdrawal
	err = s.tx.WithinJobOffer(ctx, existing.JobOfferID, func(ctx context.Context, repos repository.Repositories) error {
		b, err := repos.Bids.GetByID(ctx, bidID)
		if err != nil {
			return notFoundOr(err, "bid")
		}
		if b.BidderID != bidderID {
			return errors.NewUnauthorizedError("only the bidder can withdraw this bid")
		}
		if !b.Status.IsLive() {
			return errors.ErrBidNotActive
		}

		wasHighest := b.IsCurrentHighest
		if err := b.Withdraw(); err != nil {
			return err
		}
		if err := repos.Bids.Update(ctx, b); err != nil {
			return fmt.Errorf("withdrawing bid: %w", err)
		}

		if wasHighest {
			bids, err := repos.Bids.ListByJobOffer(ctx, b.JobOfferID)
			if err != nil {
				return fmt.Errorf("listing bids for promotion: %w", err)
			}
			if next := bid.SelectHighest(bids); next != nil {
				if err := next.Promote(); err != nil {
					return err
				}
				if err := repos.Bids.Update(ctx, next); err != nil {
					return fmt.Errorf("promoting next highest bid: %w", err)
				}
				w.promoted = next
			}
		}

		if _, _, err := s.pricing.Recompute(ctx, repos, b.JobOfferID); err != nil {
			return err
		}

		offer, err := repos.JobOffers.GetByID(ctx, b.JobOfferID)
		if err != nil {
			return fmt.Errorf("loading job offer: %w", err)
		}

		w.bid = b
		w.offer = offer
		return nil
	})
	if err != nil {
		telemetry.WithSpanError(span, err)
		return err
	}

	s.logger.Info("bid withdrawn",
		zap.String("bid_id", w.bid.ID.String()),
		zap.String("job_offer_id", w.bid.JobOfferID.String()),
		zap.Bool("promoted_next", w.promoted != nil))

	s.metrics.RecordBidTransition(ctx, string(bid.StatusWithdrawn))
	s.notifier.Notify(ctx, w.offer.ClientID, notification.KindBidWithdrawn, bidPayload(w.bid))
	if w.promoted != nil {
		s.metrics.RecordHighestChange(ctx, "withdrawal")
		s.notifier.Notify(ctx, w.promoted.BidderID, notification.KindNowHighest, bidPayload(w.promoted))
	}
	return nil
}

// GetBid retrieves a specific bid
func (s *service) GetBid(ctx context.Context, bidID uuid.UUID) (*bid.Bid, error) {
	b, err := s.repos.Bids.GetByID(ctx, bidID)
	if err != nil {
		return nil, notFoundOr(err, "bid")
	}
	return b, nil
}

func (s *service) ListBidsForJobOffer(ctx context.Context, jobOfferID uuid.UUID) ([]*bid.Bid, error) {
	bids, err := s.repos.Bids.ListByJobOffer(ctx, jobOfferID)
	if err != nil {
		return nil, fmt.Errorf("listing bids for job offer: %w", err)
	}
	return bids, nil
}

func (s *service) ListBidsForBidder(ctx context.Context, bidderID uuid.UUID) ([]*bid.Bid, error) {
	bids, err := s.repos.Bids.ListByBidder(ctx, bidderID)
	if err != nil {
		return nil, fmt.Errorf("listing bids for bidder: %w", err)
	}
	return bids, nil
}

// GetCurrentHighest returns RESOURCE_NOT_FOUND when no bid is active
func (s *service) GetCurrentHighest(ctx context.Context, jobOfferID uuid.UUID) (*bid.Bid, error) {
	b, err := s.repos.Bids.GetCurrentHighest(ctx, jobOfferID)
	if err != nil {
		return nil, notFoundOr(err, "current highest bid")
	}
	return b, nil
}

func notFoundOr(err error, resource string) error {
	if repository.IsNotFound(err) {
		return errors.NewNotFoundError(resource).WithCause(err)
	}
	return fmt.Errorf("loading %s: %w", resource, err)
}

// errorCode is the metrics label for an outcome; empty on success
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return errors.CodeInternal
}
