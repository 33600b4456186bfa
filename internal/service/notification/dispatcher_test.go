package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/cache"
)

type fakeSender struct {
	mu    sync.Mutex
	fail  bool
	calls int
	sent  []*Notification
}

func (s *fakeSender) Send(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return errors.New("transport down")
	}
	c := *n
	s.sent = append(s.sent, &c)
	return nil
}

func (s *fakeSender) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *fakeSender) delivered() []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Notification(nil), s.sent...)
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newRetryQueue(t *testing.T) *cache.RetryQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRetryQueue(client, cache.RetryQueueKey, zaptest.NewLogger(t))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.QueueSize = 16
	cfg.SendTimeout = 200 * time.Millisecond
	cfg.RatePerSecond = 1000
	cfg.Burst = 100
	return cfg
}

func TestDispatcher_Delivers(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, nil, nil, testConfig(), zaptest.NewLogger(t))
	d.Start()

	recipient := uuid.New()
	d.Notify(context.Background(), recipient, KindNewHighBid, map[string]interface{}{"amount_usd": "150"})

	assert.Eventually(t, func() bool { return len(sender.delivered()) == 1 }, time.Second, 5*time.Millisecond)
	n := sender.delivered()[0]
	assert.Equal(t, recipient, n.RecipientID)
	assert.Equal(t, KindNewHighBid, n.Kind)
	assert.Equal(t, 1, n.Attempts)

	require.NoError(t, d.Stop(context.Background()))
}

func TestDispatcher_NotifyOutlivesRequestContext(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, nil, nil, testConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, uuid.New(), KindOutbid, nil)
	cancel()

	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	assert.Len(t, sender.delivered(), 1)
}

func TestDispatcher_FailureGoesToRetryStore(t *testing.T) {
	sender := &fakeSender{fail: true}
	retries := newRetryQueue(t)
	d := NewDispatcher(sender, retries, nil, testConfig(), zaptest.NewLogger(t))
	d.Start()

	d.Notify(context.Background(), uuid.New(), KindBidAccepted, map[string]interface{}{"bid_id": "b1"})
	require.NoError(t, d.Stop(context.Background()))

	pending, err := d.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	sender.setFail(false)
	delivered, err := d.DrainRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	sent := sender.delivered()
	require.Len(t, sent, 1)
	assert.Equal(t, 2, sent[0].Attempts)
	assert.Equal(t, "b1", sent[0].Payload["bid_id"])

	pending, err = d.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestDispatcher_DropsAfterMaxAttempts(t *testing.T) {
	sender := &fakeSender{fail: true}
	retries := newRetryQueue(t)
	cfg := testConfig()
	cfg.MaxAttempts = 2
	cfg.BreakerFailures = 100
	d := NewDispatcher(sender, retries, nil, cfg, zaptest.NewLogger(t))
	d.Start()

	d.Notify(context.Background(), uuid.New(), KindOutbid, nil)
	require.NoError(t, d.Stop(context.Background()))

	delivered, err := d.DrainRetries(context.Background())
	require.NoError(t, err)
	assert.Zero(t, delivered)

	pending, err := d.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Equal(t, 2, sender.callCount())
}

func TestDispatcher_QueueFullUsesRetryStore(t *testing.T) {
	sender := &fakeSender{}
	retries := newRetryQueue(t)
	cfg := testConfig()
	cfg.QueueSize = 1
	d := NewDispatcher(sender, retries, nil, cfg, zaptest.NewLogger(t))

	// no workers yet, so the second notification cannot be queued
	d.Notify(context.Background(), uuid.New(), KindOutbid, nil)
	d.Notify(context.Background(), uuid.New(), KindOutbid, nil)

	pending, err := d.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	delivered, err := d.DrainRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Len(t, sender.delivered(), 2)
}

func TestDispatcher_BreakerOpens(t *testing.T) {
	sender := &fakeSender{fail: true}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.BreakerFailures = 2
	cfg.BreakerTimeout = time.Hour
	d := NewDispatcher(sender, nil, nil, cfg, zaptest.NewLogger(t))
	d.Start()

	for i := 0; i < 5; i++ {
		d.Notify(context.Background(), uuid.New(), KindOutbid, nil)
	}
	require.NoError(t, d.Stop(context.Background()))

	// the breaker short-circuits once two consecutive sends failed
	assert.Equal(t, 2, sender.callCount())
}

type offlineSender struct {
	mu    sync.Mutex
	calls int
}

func (s *offlineSender) Send(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return fmt.Errorf("user %s: %w", n.RecipientID, ErrRecipientOffline)
}

func TestDispatcher_OfflineRecipientsDoNotTripBreaker(t *testing.T) {
	sender := &offlineSender{}
	retries := newRetryQueue(t)
	cfg := testConfig()
	cfg.Workers = 1
	cfg.BreakerFailures = 2
	cfg.BreakerTimeout = time.Hour
	d := NewDispatcher(sender, retries, nil, cfg, zaptest.NewLogger(t))
	d.Start()

	for i := 0; i < 5; i++ {
		d.Notify(context.Background(), uuid.New(), KindOutbid, nil)
	}
	require.NoError(t, d.Stop(context.Background()))

	sender.mu.Lock()
	assert.Equal(t, 5, sender.calls)
	sender.mu.Unlock()

	// kept for redelivery once the user reconnects
	pending, err := d.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), pending)
}

func TestDispatcher_NotifyAfterStopIsDropped(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, nil, nil, testConfig(), zaptest.NewLogger(t))
	d.Start()
	require.NoError(t, d.Stop(context.Background()))

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), uuid.New(), KindOutbid, nil)
	})
	assert.Empty(t, sender.delivered())
}

func TestDispatcher_DrainWithoutStore(t *testing.T) {
	d := NewDispatcher(&fakeSender{}, nil, nil, testConfig(), zaptest.NewLogger(t))
	n, err := d.DrainRetries(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMultiSender(t *testing.T) {
	ok := &fakeSender{}
	bad := &fakeSender{fail: true}
	n := New(uuid.New(), KindJobAssigned, nil)

	err := MultiSender{ok, bad, NewLogSender(zaptest.NewLogger(t))}.Send(context.Background(), n)
	assert.Error(t, err)
	assert.Len(t, ok.delivered(), 1)
	assert.Equal(t, 1, bad.callCount())

	assert.NoError(t, MultiSender{ok}.Send(context.Background(), n))
}
