package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the marketplace domain metrics. A nil *Registry records
// nothing, so services can run without one.
type Registry struct {
	meter metric.Meter

	// Bid domain metrics
	BidPlacementDuration metric.Float64Histogram
	BidsPlaced           metric.Int64Counter
	BidsRejected         metric.Int64Counter
	BidTransitions       metric.Int64Counter
	HighestBidChanges    metric.Int64Counter

	// Currency metrics
	RateLookups   metric.Int64Counter
	RateFallbacks metric.Int64Counter

	// Pricing metrics
	RecomputeDuration metric.Float64Histogram

	// Notification metrics
	NotificationsSent    metric.Int64Counter
	NotificationsFailed  metric.Int64Counter
	NotificationsDropped metric.Int64Counter
	NotificationLatency  metric.Float64Histogram
	NotificationQueue    metric.Int64ObservableGauge

	// Job offer metrics
	JobOfferTransitions metric.Int64Counter

	queueDepth atomic.Int64
}

// NewRegistry creates the registry on the named global meter
func NewRegistry(meterName string) (*Registry, error) {
	return NewRegistryWithMeter(otel.Meter(meterName))
}

// NewRegistryWithMeter creates the registry on an explicit meter
func NewRegistryWithMeter(meter metric.Meter) (*Registry, error) {
	r := &Registry{meter: meter}

	if err := r.initBidMetrics(); err != nil {
		return nil, err
	}
	if err := r.initCurrencyMetrics(); err != nil {
		return nil, err
	}
	if err := r.initNotificationMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initBidMetrics() error {
	var err error

	r.BidPlacementDuration, err = r.meter.Float64Histogram(
		"marketplace.bid.placement_duration",
		metric.WithDescription("Duration of bid placement in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		return err
	}

	r.BidsPlaced, err = r.meter.Int64Counter(
		"marketplace.bid.placed_total",
		metric.WithDescription("Total number of bids accepted for a job offer"),
	)
	if err != nil {
		return err
	}

	r.BidsRejected, err = r.meter.Int64Counter(
		"marketplace.bid.rejected_total",
		metric.WithDescription("Total number of bid placements refused, by error code"),
	)
	if err != nil {
		return err
	}

	r.BidTransitions, err = r.meter.Int64Counter(
		"marketplace.bid.transitions_total",
		metric.WithDescription("Bid status transitions"),
	)
	if err != nil {
		return err
	}

	r.HighestBidChanges, err = r.meter.Int64Counter(
		"marketplace.bid.highest_changes_total",
		metric.WithDescription("Times a job offer's current highest bid changed"),
	)
	if err != nil {
		return err
	}

	r.JobOfferTransitions, err = r.meter.Int64Counter(
		"marketplace.joboffer.transitions_total",
		metric.WithDescription("Job offer status transitions"),
	)
	return err
}

func (r *Registry) initCurrencyMetrics() error {
	var err error

	r.RateLookups, err = r.meter.Int64Counter(
		"marketplace.currency.rate_lookups_total",
		metric.WithDescription("Exchange rate lookups by source"),
	)
	if err != nil {
		return err
	}

	r.RateFallbacks, err = r.meter.Int64Counter(
		"marketplace.currency.rate_fallbacks_total",
		metric.WithDescription("Conversions that used a hardcoded fallback rate"),
	)
	if err != nil {
		return err
	}

	r.RecomputeDuration, err = r.meter.Float64Histogram(
		"marketplace.pricing.recompute_duration",
		metric.WithDescription("Duration of price recommendation recomputation in milliseconds"),
		metric.WithUnit("ms"),
	)
	return err
}

func (r *Registry) initNotificationMetrics() error {
	var err error

	r.NotificationsSent, err = r.meter.Int64Counter(
		"marketplace.notification.sent_total",
		metric.WithDescription("Notifications delivered"),
	)
	if err != nil {
		return err
	}

	r.NotificationsFailed, err = r.meter.Int64Counter(
		"marketplace.notification.failed_total",
		metric.WithDescription("Notification delivery attempts that failed"),
	)
	if err != nil {
		return err
	}

	r.NotificationsDropped, err = r.meter.Int64Counter(
		"marketplace.notification.dropped_total",
		metric.WithDescription("Notifications dropped because the queue was full or attempts ran out"),
	)
	if err != nil {
		return err
	}

	r.NotificationLatency, err = r.meter.Float64Histogram(
		"marketplace.notification.delivery_duration",
		metric.WithDescription("Notification delivery latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	r.NotificationQueue, err = r.meter.Int64ObservableGauge(
		"marketplace.notification.queue_depth",
		metric.WithDescription("Notifications waiting for a worker"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			o.Observe(r.queueDepth.Load())
			return nil
		}),
	)
	return err
}

// RecordBidPlacement records the outcome of a PlaceBid call. code is empty
// on success.
func (r *Registry) RecordBidPlacement(ctx context.Context, duration time.Duration, currency, code string) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("currency", currency))
	r.BidPlacementDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if code == "" {
		r.BidsPlaced.Add(ctx, 1, attrs)
		return
	}
	r.BidsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordBidTransition counts a bid moving into status to
func (r *Registry) RecordBidTransition(ctx context.Context, to string) {
	if r == nil {
		return
	}
	r.BidTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

// RecordHighestChange counts a change of the current highest bid
func (r *Registry) RecordHighestChange(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	r.HighestBidChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordJobOfferTransition counts a job offer moving into status to
func (r *Registry) RecordJobOfferTransition(ctx context.Context, to string) {
	if r == nil {
		return
	}
	r.JobOfferTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

// RecordRateLookup counts a rate resolution by pair and source
func (r *Registry) RecordRateLookup(ctx context.Context, pair, source string) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("pair", pair), attribute.String("source", source))
	r.RateLookups.Add(ctx, 1, attrs)
	if source == "fallback" {
		r.RateFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("pair", pair)))
	}
}

// RecordRecompute records a recommendation recomputation
func (r *Registry) RecordRecompute(ctx context.Context, duration time.Duration) {
	if r == nil {
		return
	}
	r.RecomputeDuration.Record(ctx, float64(duration.Microseconds())/1000)
}

// RecordNotification records one delivery attempt
func (r *Registry) RecordNotification(ctx context.Context, kind string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	r.NotificationLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		r.NotificationsFailed.Add(ctx, 1, attrs)
		return
	}
	r.NotificationsSent.Add(ctx, 1, attrs)
}

// RecordNotificationDropped counts a notification that will not be delivered
func (r *Registry) RecordNotificationDropped(ctx context.Context, kind, reason string) {
	if r == nil {
		return
	}
	r.NotificationsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("reason", reason),
	))
}

// AddQueueDepth adjusts the observed notification queue depth
func (r *Registry) AddQueueDepth(delta int64) {
	if r == nil {
		return
	}
	r.queueDepth.Add(delta)
}
