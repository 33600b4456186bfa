package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender writes notifications to the log. Used in development when no
// realtime transport is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, n *Notification) error {
	s.logger.Info("notification",
		zap.String("notification_id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID.String()),
		zap.String("kind", string(n.Kind)),
		zap.Any("payload", n.Payload))
	return nil
}

// MultiSender delivers to every sender and joins their errors
type MultiSender []Sender

func (m MultiSender) Send(ctx context.Context, n *Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopNotifier discards every notification
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, uuid.UUID, Kind, map[string]interface{}) {}
