// Package events publishes recipient and notification state changes for live
// observers. Delivery is fire-and-forget, at-most-once per state change; a
// missed event is recoverable only by re-fetching current state. Dispatch
// correctness never depends on it.
package events

import (
	"context"
	"time"
)

const (
	TypeRecipientUpdated    = "recipient.updated"
	TypeNotificationUpdated = "notification.updated"
)

// Events carry only identifiers and the new state, never full entities.

type RecipientUpdated struct {
	Type           string     `json:"type"`
	RecipientID    string     `json:"recipient_id"`
	NotificationID string     `json:"notification_id"`
	ContactID      string     `json:"contact_id"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}

type NotificationUpdated struct {
	Type           string     `json:"type"`
	NotificationID string     `json:"notification_id"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}

type Publisher interface {
	PublishRecipientUpdated(ctx context.Context, ev RecipientUpdated)
	PublishNotificationUpdated(ctx context.Context, ev NotificationUpdated)
}

// Topic returns the pub/sub channel observers subscribe to for one
// notification's progress.
func Topic(notificationID string) string {
	return "notifications." + notificationID
}

// Nop discards all events.
type Nop struct{}

func (Nop) PublishRecipientUpdated(context.Context, RecipientUpdated)       {}
func (Nop) PublishNotificationUpdated(context.Context, NotificationUpdated) {}
