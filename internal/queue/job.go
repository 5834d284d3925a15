package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// SendJob asks the sender worker to run the full dispatch cycle for one
// notification. The job is the unit of retry: the worker re-attempts the
// whole cycle, never individual recipients.
type SendJob struct {
	NotificationID string    `json:"notification_id"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

type Enqueuer struct {
	Writer *kafka.Writer
}

func (e *Enqueuer) Enqueue(ctx context.Context, notificationID string) error {
	payload, err := json.Marshal(SendJob{
		NotificationID: notificationID,
		EnqueuedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal send job: %w", err)
	}
	if err := e.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(notificationID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("enqueue send job: %w", err)
	}
	return nil
}
