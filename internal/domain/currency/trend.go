package currency

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TrendDirection summarizes how a rate moved over a window
type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendFlat TrendDirection = "flat"
)

// flatBandPercent is the dead band inside which a move counts as flat.
var flatBandPercent = decimal.RequireFromString("0.5")

// TrendStats are historical statistics of a pair over a time window
type TrendStats struct {
	Pair          Pair            `json:"pair"`
	Window        time.Duration   `json:"window"`
	Current       decimal.Decimal `json:"current"`
	CurrentSource RateSource      `json:"current_source"`
	Average       decimal.Decimal `json:"average"`
	Min           decimal.Decimal `json:"min"`
	Max           decimal.Decimal `json:"max"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Direction     TrendDirection  `json:"direction"`
	Samples       int             `json:"samples"`
}

// ComputeTrend derives statistics from rate history. Rows may arrive in any
// order; they are sorted by LastUpdated before the first/last comparison.
func ComputeTrend(pair Pair, window time.Duration, history []*ExchangeRate) TrendStats {
	stats := TrendStats{
		Pair:      pair,
		Window:    window,
		Direction: TrendFlat,
		Samples:   len(history),
	}
	if len(history) == 0 {
		return stats
	}

	rows := make([]*ExchangeRate, len(history))
	copy(rows, history)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].LastUpdated.Before(rows[j].LastUpdated)
	})

	sum := decimal.Zero
	stats.Min = rows[0].Rate
	stats.Max = rows[0].Rate
	for _, r := range rows {
		sum = sum.Add(r.Rate)
		if r.Rate.LessThan(stats.Min) {
			stats.Min = r.Rate
		}
		if r.Rate.GreaterThan(stats.Max) {
			stats.Max = r.Rate
		}
	}
	stats.Average = sum.Div(decimal.NewFromInt(int64(len(rows))))

	first := rows[0].Rate
	last := rows[len(rows)-1].Rate
	stats.Current = last
	stats.CurrentSource = SourceLive
	if first.IsPositive() {
		stats.ChangePercent = last.Sub(first).Div(first).Mul(decimal.NewFromInt(100)).Round(4)
	}

	switch {
	case stats.ChangePercent.GreaterThan(flatBandPercent):
		stats.Direction = TrendUp
	case stats.ChangePercent.LessThan(flatBandPercent.Neg()):
		stats.Direction = TrendDown
	}

	return stats
}
