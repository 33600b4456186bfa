package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind names an event the marketplace tells users about
type Kind string

const (
	// KindOutbid tells a handyman their bid is no longer the highest
	KindOutbid Kind = "outbid"
	// KindNewHighBid tells the client a new highest bid arrived
	KindNewHighBid Kind = "new-high-bid"
	// KindBidAccepted tells the winning handyman the job is theirs
	KindBidAccepted Kind = "bid-accepted"
	// KindBudgetUpdated tells active bidders the client changed the budget
	KindBudgetUpdated Kind = "budget-updated"
	KindBidRejected   Kind = "bid-rejected"
	KindBidWithdrawn  Kind = "bid-withdrawn"
	KindNowHighest    Kind = "now-highest"
	KindJobAssigned   Kind = "job-assigned"
)

// ErrRecipientOffline is returned by senders that only reach connected
// users. The notification is retried later without counting against the
// sender's circuit breaker.
var ErrRecipientOffline = errors.New("recipient has no open connection")

// Notification is one message for one recipient
type Notification struct {
	ID          uuid.UUID              `json:"id"`
	RecipientID uuid.UUID              `json:"recipient_id"`
	Kind        Kind                   `json:"kind"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	Attempts    int                    `json:"attempts"`
}

// New builds a notification ready to dispatch
func New(recipientID uuid.UUID, kind Kind, payload map[string]interface{}) *Notification {
	return &Notification{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
}

// Notifier is what the core calls after a state change commits. Notify is
// fire-and-forget: it never blocks on delivery and never reports failure.
type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, kind Kind, payload map[string]interface{})
}

// Sender delivers a notification over some transport
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// RetryStore holds serialized notifications waiting for another attempt
type RetryStore interface {
	Push(ctx context.Context, payload []byte) error
	PopBatch(ctx context.Context, n int) ([][]byte, error)
	Len(ctx context.Context) (int64, error)
}
