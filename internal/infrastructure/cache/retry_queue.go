package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RetryQueue is a FIFO list of serialized payloads that failed delivery
type RetryQueue struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

func NewRetryQueue(client *redis.Client, key string, logger *zap.Logger) *RetryQueue {
	if key == "" {
		key = RetryQueueKey
	}
	return &RetryQueue{client: client, key: key, logger: logger}
}

// Push appends a payload to the tail of the queue
func (q *RetryQueue) Push(ctx context.Context, payload []byte) error {
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		q.logger.Error("retry queue push failed", zap.String("key", q.key), zap.Error(err))
		return fmt.Errorf("retry queue push failed: %w", err)
	}
	return nil
}

// PopBatch removes up to n payloads from the head of the queue
func (q *RetryQueue) PopBatch(ctx context.Context, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := q.client.LPopCount(ctx, q.key, n).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		q.logger.Error("retry queue pop failed", zap.String("key", q.key), zap.Error(err))
		return nil, fmt.Errorf("retry queue pop failed: %w", err)
	}

	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

// Len returns the number of queued payloads
func (q *RetryQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("retry queue length failed: %w", err)
	}
	return n, nil
}
