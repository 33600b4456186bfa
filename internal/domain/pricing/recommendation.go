// Package pricing derives price recommendations from the bids on a job offer.
package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/bid"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
)

type MarketTrend string

const (
	TrendLow     MarketTrend = "low"
	TrendAverage MarketTrend = "average"
	TrendHigh    MarketTrend = "high"
)

// DefaultQualityScore applies when none of the bidders has a rating
const DefaultQualityScore = 3.5

var (
	highTrendFactor = decimal.RequireFromString("0.8")
	lowTrendFactor  = decimal.RequireFromString("1.2")

	premiumMultiplier  = decimal.RequireFromString("1.15")
	standardMultiplier = decimal.RequireFromString("1.05")
)

// Recommendation is the derived pricing view of one job offer. It is
// overwritten wholesale on every recompute.
type Recommendation struct {
	JobOfferID        uuid.UUID                           `json:"job_offer_id"`
	AverageBid        map[values.Currency]decimal.Decimal `json:"average_bid"`
	HighestBid        map[values.Currency]decimal.Decimal `json:"highest_bid"`
	LowestBid         map[values.Currency]decimal.Decimal `json:"lowest_bid"`
	RecommendedBudget map[values.Currency]decimal.Decimal `json:"recommended_budget"`
	TotalBids         int                                 `json:"total_bids"`
	QualityScore      float64                             `json:"quality_score"`
	MarketTrend       MarketTrend                         `json:"market_trend"`
	UpdatedAt         time.Time                           `json:"updated_at"`
}

// Input is everything Compute needs. Ratings holds one entry per rated
// bidder; unrated bidders are left out.
type Input struct {
	JobOfferID   uuid.UUID
	Bids         []*bid.Bid
	Ratings      []float64
	Currencies   []values.Currency
	DefaultScore float64
}

// LiveBids filters bids that still contend for the job
func LiveBids(bids []*bid.Bid) []*bid.Bid {
	live := make([]*bid.Bid, 0, len(bids))
	for _, b := range bids {
		if b.Status.IsLive() {
			live = append(live, b)
		}
	}
	return live
}

// Compute builds a recommendation from the live bids in in. It returns false
// when there is nothing to compute from; callers keep the previous
// recommendation in that case.
func Compute(in Input) (*Recommendation, bool) {
	live := LiveBids(in.Bids)
	if len(live) == 0 {
		return nil, false
	}

	quality := QualityScore(in.Ratings, in.DefaultScore)
	multiplier := QualityMultiplier(quality)

	rec := &Recommendation{
		JobOfferID:        in.JobOfferID,
		AverageBid:        make(map[values.Currency]decimal.Decimal, len(in.Currencies)),
		HighestBid:        make(map[values.Currency]decimal.Decimal, len(in.Currencies)),
		LowestBid:         make(map[values.Currency]decimal.Decimal, len(in.Currencies)),
		RecommendedBudget: make(map[values.Currency]decimal.Decimal, len(in.Currencies)),
		TotalBids:         len(live),
		QualityScore:      quality,
		MarketTrend:       TrendAverage,
		UpdatedAt:         time.Now().UTC(),
	}

	for _, c := range in.Currencies {
		s, ok := summarize(live, c)
		if !ok {
			continue
		}
		places := c.Places()
		rec.AverageBid[c] = s.avg.Round(places)
		rec.HighestBid[c] = s.max.Round(places)
		rec.LowestBid[c] = s.min.Round(places)
		rec.RecommendedBudget[c] = s.avg.Mul(multiplier).Round(0)

		if c == bid.ComparisonCurrency {
			rec.MarketTrend = Trend(s.avg, s.max, s.min)
		}
	}

	return rec, true
}

type stats struct {
	avg, max, min decimal.Decimal
}

func summarize(bids []*bid.Bid, c values.Currency) (stats, bool) {
	var s stats
	sum := decimal.Zero
	n := 0
	for _, b := range bids {
		v, ok := b.AmountIn(c)
		if !ok {
			continue
		}
		if n == 0 || v.GreaterThan(s.max) {
			s.max = v
		}
		if n == 0 || v.LessThan(s.min) {
			s.min = v
		}
		sum = sum.Add(v)
		n++
	}
	if n == 0 {
		return s, false
	}
	s.avg = sum.Div(decimal.NewFromInt(int64(n)))
	return s, true
}

// QualityScore is the mean of the given ratings, or def when there are none
func QualityScore(ratings []float64, def float64) float64 {
	if len(ratings) == 0 {
		return def
	}
	var sum float64
	for _, r := range ratings {
		sum += r
	}
	return sum / float64(len(ratings))
}

// QualityMultiplier maps a quality score to the budget premium
func QualityMultiplier(score float64) decimal.Decimal {
	switch {
	case score > 4.0:
		return premiumMultiplier
	case score > 3.5:
		return standardMultiplier
	default:
		return decimal.NewFromInt(1)
	}
}

// Trend classifies the market. "high" is checked first, so a single bid
// (average == highest == lowest) is always high.
func Trend(avg, highest, lowest decimal.Decimal) MarketTrend {
	switch {
	case avg.GreaterThan(highest.Mul(highTrendFactor)):
		return TrendHigh
	case avg.LessThan(lowest.Mul(lowTrendFactor)):
		return TrendLow
	default:
		return TrendAverage
	}
}

// Clone returns a deep copy
func (r *Recommendation) Clone() *Recommendation {
	if r == nil {
		return nil
	}
	c := *r
	c.AverageBid = cloneAmounts(r.AverageBid)
	c.HighestBid = cloneAmounts(r.HighestBid)
	c.LowestBid = cloneAmounts(r.LowestBid)
	c.RecommendedBudget = cloneAmounts(r.RecommendedBudget)
	return &c
}

func cloneAmounts(m map[values.Currency]decimal.Decimal) map[values.Currency]decimal.Decimal {
	if m == nil {
		return nil
	}
	out := make(map[values.Currency]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
