package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/handyman-marketplace-backend/internal/service/notification"
)

// Notifier mock
type Notifier struct {
	mock.Mock
}

func (m *Notifier) Notify(ctx context.Context, recipientID uuid.UUID, kind notification.Kind, payload map[string]interface{}) {
	m.Called(ctx, recipientID, kind, payload)
}

// Sent is one notification captured by RecordingNotifier
type Sent struct {
	RecipientID uuid.UUID
	Kind        notification.Kind
	Payload     map[string]interface{}
}

// RecordingNotifier captures notifications in order. Safe for concurrent use.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Sent
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (r *RecordingNotifier) Notify(ctx context.Context, recipientID uuid.UUID, kind notification.Kind, payload map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{RecipientID: recipientID, Kind: kind, Payload: payload})
}

// All returns every captured notification
func (r *RecordingNotifier) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// OfKind returns the captured notifications of one kind
func (r *RecordingNotifier) OfKind(kind notification.Kind) []Sent {
	var out []Sent
	for _, s := range r.All() {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// For returns the captured notifications addressed to recipientID
func (r *RecordingNotifier) For(recipientID uuid.UUID) []Sent {
	var out []Sent
	for _, s := range r.All() {
		if s.RecipientID == recipientID {
			out = append(out, s)
		}
	}
	return out
}

// Reset forgets everything captured so far
func (r *RecordingNotifier) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
