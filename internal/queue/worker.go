package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/dispatch-service/internal/store"
)

type Sender interface {
	Send(ctx context.Context, notificationID string) error
}

type NotificationStatusStore interface {
	UpdateNotificationStatus(ctx context.Context, id string, status store.NotificationStatus, sentAt *time.Time) error
}

// Worker consumes send jobs and runs the dispatch engine with a fixed-delay,
// fixed-attempt retry around the whole cycle. When attempts are exhausted the
// notification is forced to failed regardless of per-recipient outcomes
// already recorded.
type Worker struct {
	ReaderFactory func() *kafka.Reader
	Engine        Sender
	Store         NotificationStatusStore
	MaxAttempts   int
	RetryDelay    time.Duration
	Logger        zerolog.Logger
}

func (w *Worker) Run(ctx context.Context) error {
	if w.ReaderFactory == nil || w.Engine == nil {
		return errors.New("worker requires a reader factory and an engine")
	}
	reader := w.ReaderFactory()
	defer reader.Close()
	tracer := otel.Tracer("sender")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return fmt.Errorf("fetch message: %w", err)
		}

		var job SendJob
		if err := json.Unmarshal(msg.Value, &job); err != nil || job.NotificationID == "" {
			w.Logger.Error().Err(err).Msg("discarding malformed send job")
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		spanCtx, span := tracer.Start(ctx, "send_job")
		span.SetAttributes(attribute.String("notification.id", job.NotificationID))

		if err := w.process(spanCtx, job); err != nil {
			span.RecordError(err)
			w.Logger.Error().Err(err).Str("notification_id", job.NotificationID).Msg("send job exhausted retries")
			w.forceFailed(spanCtx, job.NotificationID)
		}
		span.End()

		if err := reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

func (w *Worker) process(ctx context.Context, job SendJob) error {
	attempts := w.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := w.RetryDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}

	op := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)), ctx)
	return backoff.Retry(func() error {
		if err := w.Engine.Send(ctx, job.NotificationID); err != nil {
			w.Logger.Warn().Err(err).Str("notification_id", job.NotificationID).Msg("dispatch attempt failed")
			return err
		}
		return nil
	}, op)
}

func (w *Worker) forceFailed(ctx context.Context, notificationID string) {
	if w.Store == nil {
		return
	}
	now := time.Now().UTC()
	err := w.Store.UpdateNotificationStatus(ctx, notificationID, store.NotificationFailed, &now)
	if err != nil && !errors.Is(err, store.ErrStatusConflict) {
		w.Logger.Error().Err(err).Str("notification_id", notificationID).Msg("force-fail notification failed")
	}
}
