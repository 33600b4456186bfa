// Package notification fans marketplace events out to the affected users.
// Delivery is asynchronous and never feeds back into the state change that
// triggered it.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/handyman-marketplace-backend/internal/metrics"
)

// Config holds the dispatcher settings
type Config struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration

	// Outbound rate limit across all workers
	RatePerSecond float64
	Burst         int

	// Total delivery attempts before a notification is dropped
	MaxAttempts int
	RetryBatch  int

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueSize:       1024,
		SendTimeout:     2 * time.Second,
		RatePerSecond:   200,
		Burst:           50,
		MaxAttempts:     5,
		RetryBatch:      100,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

type envelope struct {
	ctx context.Context
	n   *Notification
}

// Dispatcher implements Notifier with a bounded queue drained by a worker
// pool. Failed sends go to the retry store and are re-attempted by
// DrainRetries.
type Dispatcher struct {
	sender  Sender
	retries RetryStore
	metrics *metrics.Registry
	logger  *zap.Logger
	config  Config

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	queue     chan envelope
	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. retries and registry may be nil;
// without a retry store failed notifications are dropped.
func NewDispatcher(sender Sender, retries RetryStore, registry *metrics.Registry, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBatch <= 0 {
		cfg.RetryBatch = def.RetryBatch
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}

	logger = logger.Named("notification")
	d := &Dispatcher{
		sender:  sender,
		retries: retries,
		metrics: registry,
		logger:  logger,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		queue:   make(chan envelope, cfg.QueueSize),
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-sender",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// an offline recipient says nothing about the sender's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRecipientOffline)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notification circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return d
}

// Start launches the worker pool. Calling it again has no effect.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.config.Workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
		d.logger.Info("notification dispatcher started",
			zap.Int("workers", d.config.Workers),
			zap.Int("queue_size", d.config.QueueSize))
	})
}

// Stop stops accepting notifications and waits for the queue to drain or
// ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification dispatcher did not drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for env := range d.queue {
		d.metrics.AddQueueDepth(-1)
		d.deliver(env.ctx, env.n)
	}
}

// Notify implements Notifier. It returns immediately; a full queue sends
// the notification straight to the retry store.
func (d *Dispatcher) Notify(ctx context.Context, recipientID uuid.UUID, kind Kind, payload map[string]interface{}) {
	n := New(recipientID, kind, payload)
	// delivery outlives the request that triggered it
	ctx = context.WithoutCancel(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("notification dropped, dispatcher stopped",
			zap.String("recipient_id", recipientID.String()),
			zap.String("kind", string(kind)))
		d.metrics.RecordNotificationDropped(ctx, string(kind), "stopped")
		return
	}

	d.metrics.AddQueueDepth(1)
	select {
	case d.queue <- envelope{ctx: ctx, n: n}:
	default:
		d.metrics.AddQueueDepth(-1)
		d.logger.Warn("notification queue full, deferring to retry store",
			zap.String("notification_id", n.ID.String()),
			zap.String("kind", string(kind)))
		d.retry(ctx, n, "queue_full")
	}
}

// deliver makes one attempt and routes failures to the retry store
func (d *Dispatcher) deliver(ctx context.Context, n *Notification) bool {
	n.Attempts++
	start := time.Now()

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	err := d.limiter.Wait(sendCtx)
	if err == nil {
		_, err = d.breaker.Execute(func() (interface{}, error) {
			return nil, d.sender.Send(sendCtx, n)
		})
	}
	d.metrics.RecordNotification(ctx, string(n.Kind), time.Since(start), err)

	if err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("notification_id", n.ID.String()),
			zap.String("recipient_id", n.RecipientID.String()),
			zap.String("kind", string(n.Kind)),
			zap.Int("attempt", n.Attempts),
			zap.Error(err))
		d.retry(ctx, n, "send_failed")
		return false
	}
	return true
}

func (d *Dispatcher) retry(ctx context.Context, n *Notification, reason string) {
	fields := []zap.Field{
		zap.String("notification_id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID.String()),
		zap.String("kind", string(n.Kind)),
		zap.Int("attempts", n.Attempts),
	}

	if n.Attempts >= d.config.MaxAttempts {
		d.logger.Error("notification dropped after max attempts", fields...)
		d.metrics.RecordNotificationDropped(ctx, string(n.Kind), "max_attempts")
		return
	}
	if d.retries == nil {
		d.logger.Warn("notification dropped, no retry store", append(fields, zap.String("reason", reason))...)
		d.metrics.RecordNotificationDropped(ctx, string(n.Kind), reason)
		return
	}

	data, err := json.Marshal(n)
	if err == nil {
		err = d.retries.Push(ctx, data)
	}
	if err != nil {
		d.logger.Error("notification dropped, retry store unavailable", append(fields, zap.Error(err))...)
		d.metrics.RecordNotificationDropped(ctx, string(n.Kind), "retry_store_error")
	}
}

// DrainRetries re-attempts one batch from the retry store and returns how
// many were delivered. Notifications that fail again go back to the store
// until they run out of attempts.
func (d *Dispatcher) DrainRetries(ctx context.Context) (int, error) {
	if d.retries == nil {
		return 0, nil
	}

	batch, err := d.retries.PopBatch(ctx, d.config.RetryBatch)
	if err != nil {
		return 0, fmt.Errorf("reading retry queue: %w", err)
	}

	delivered := 0
	for _, raw := range batch {
		var n Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			d.logger.Error("discarding unreadable retry entry", zap.Error(err))
			continue
		}
		if d.deliver(ctx, &n) {
			delivered++
		}
	}

	if len(batch) > 0 {
		d.logger.Info("notification retries drained",
			zap.Int("attempted", len(batch)),
			zap.Int("delivered", delivered))
	}
	return delivered, nil
}

// Pending returns the number of notifications waiting in the retry store
func (d *Dispatcher) Pending(ctx context.Context) (int64, error) {
	if d.retries == nil {
		return 0, nil
	}
	return d.retries.Len(ctx)
}
