package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/dispatch-service/internal/channel"
	"github.com/example/dispatch-service/internal/events"
	"github.com/example/dispatch-service/internal/personalize"
	"github.com/example/dispatch-service/internal/store"
)

var (
	recipientSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_recipient_sends_total",
		Help: "Recipient send attempts by channel and outcome",
	}, []string{"channel", "outcome"})
	notificationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_notifications_total",
		Help: "Completed notification dispatch runs by final status",
	}, []string{"status"})
)

// Store is the persistence surface the engine needs. *store.Postgres
// implements it.
type Store interface {
	GetNotification(ctx context.Context, id string) (store.Notification, error)
	UpdateNotificationStatus(ctx context.Context, id string, status store.NotificationStatus, sentAt *time.Time) error
	ListRecipients(ctx context.Context, notificationID string) ([]store.Recipient, error)
	GetContact(ctx context.Context, id string) (store.Contact, error)
	MarkRecipientSent(ctx context.Context, id string, sentAt time.Time) error
	MarkRecipientFailed(ctx context.Context, id string, message string) error
}

const contactUnavailableMessage = "contact missing or inactive"

// Engine runs one notification's send cycle: transition to sending, attempt
// every pending recipient, then aggregate the final status once all attempts
// are known. Recipient failures are isolated; nothing below the job layer
// aborts the loop.
type Engine struct {
	Store     Store
	Channels  *channel.Registry
	Publisher events.Publisher
	Logger    zerolog.Logger

	// Workers bounds the per-notification fan-out. Zero means sequential.
	Workers int

	// SendTimeout bounds a single adapter call. Zero means 30s.
	SendTimeout time.Duration
}

// Send executes the full dispatch cycle for one notification. Safe to call
// again after a crashed attempt: already-decided recipients are skipped and a
// notification that already reached a terminal state is left untouched.
func (e *Engine) Send(ctx context.Context, notificationID string) error {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "send_notification")
	defer span.End()
	span.SetAttributes(attribute.String("notification.id", notificationID))

	n, err := e.Store.GetNotification(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("load notification: %w", err)
	}
	if n.Status.Terminal() {
		e.Logger.Info().Str("notification_id", n.ID).Str("status", string(n.Status)).Msg("notification already resolved, skipping")
		return nil
	}

	if err := e.Store.UpdateNotificationStatus(ctx, n.ID, store.NotificationSending, nil); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil
		}
		return fmt.Errorf("mark sending: %w", err)
	}

	recipients, err := e.Store.ListRecipients(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}

	workers := e.Workers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		persistErrs []error
	)
	for _, r := range recipients {
		if r.Status != store.RecipientPending {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(r store.Recipient) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := e.sendOne(ctx, n, r); err != nil {
				mu.Lock()
				persistErrs = append(persistErrs, err)
				mu.Unlock()
			}
		}(r)
	}
	// Barrier: the final status is computed only once every attempt is known.
	wg.Wait()

	// A recipient outcome that could not be persisted must not be sealed under
	// a terminal status. Leave the notification in sending and let the job
	// layer re-run the cycle; decided recipients are skipped on the next pass.
	if len(persistErrs) > 0 {
		return fmt.Errorf("persist recipient outcomes: %w", errors.Join(persistErrs...))
	}

	rows, err := e.Store.ListRecipients(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("reload recipients: %w", err)
	}
	failed := 0
	for _, r := range rows {
		if r.Status == store.RecipientFailed {
			failed++
		}
	}

	final := store.NotificationSent
	switch {
	case failed == len(rows):
		final = store.NotificationFailed
	case failed > 0:
		final = store.NotificationPartial
	}

	now := time.Now().UTC()
	if err := e.Store.UpdateNotificationStatus(ctx, n.ID, final, &now); err != nil && !errors.Is(err, store.ErrStatusConflict) {
		return fmt.Errorf("mark %s: %w", final, err)
	}

	notificationRuns.WithLabelValues(string(final)).Inc()
	e.Publisher.PublishNotificationUpdated(ctx, events.NotificationUpdated{
		NotificationID: n.ID,
		Status:         string(final),
		SentAt:         &now,
	})
	e.Logger.Info().
		Str("notification_id", n.ID).
		Str("status", string(final)).
		Int("recipients", len(rows)).
		Int("failed", failed).
		Msg("notification dispatched")
	return nil
}

func (e *Engine) sendOne(ctx context.Context, n store.Notification, r store.Recipient) error {
	contact, err := e.Store.GetContact(ctx, r.ContactID)
	if err != nil || !contact.Active {
		return e.failRecipient(ctx, r, "", contactUnavailableMessage)
	}

	text := personalize.Render(n.Content, contact)

	adapter, err := e.Channels.ResolveFor(n, contact)
	if err != nil {
		return e.failRecipient(ctx, r, "", "no delivery channel available")
	}

	identifier, ok := contact.Identifier(store.Channel(adapter.Name()))
	if !ok {
		return e.failRecipient(ctx, r, adapter.Name(), "contact has no identifier for channel "+adapter.Name())
	}

	timeout := e.SendTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	result := adapter.Send(sendCtx, identifier, text, channel.SendOptions{})
	cancel()

	if !result.OK {
		return e.failRecipient(ctx, r, adapter.Name(), result.ErrorMessage)
	}

	now := time.Now().UTC()
	if err := e.Store.MarkRecipientSent(ctx, r.ID, now); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil
		}
		e.Logger.Error().Err(err).Str("recipient_id", r.ID).Msg("persist sent recipient failed")
		return fmt.Errorf("mark recipient %s sent: %w", r.ID, err)
	}
	recipientSends.WithLabelValues(adapter.Name(), "sent").Inc()
	e.Publisher.PublishRecipientUpdated(ctx, events.RecipientUpdated{
		RecipientID:    r.ID,
		NotificationID: r.NotificationID,
		ContactID:      r.ContactID,
		Status:         string(store.RecipientSent),
		SentAt:         &now,
	})
	return nil
}

func (e *Engine) failRecipient(ctx context.Context, r store.Recipient, channelName, message string) error {
	if message == "" {
		message = "delivery failed"
	}
	if err := e.Store.MarkRecipientFailed(ctx, r.ID, message); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil
		}
		e.Logger.Error().Err(err).Str("recipient_id", r.ID).Msg("persist failed recipient failed")
		return fmt.Errorf("mark recipient %s failed: %w", r.ID, err)
	}
	if channelName == "" {
		channelName = "none"
	}
	recipientSends.WithLabelValues(channelName, "failed").Inc()
	e.Publisher.PublishRecipientUpdated(ctx, events.RecipientUpdated{
		RecipientID:    r.ID,
		NotificationID: r.NotificationID,
		ContactID:      r.ContactID,
		Status:         string(store.RecipientFailed),
		Error:          message,
	})
	return nil
}

// SendTest sends one message through the named adapter (or the configured
// default) without touching any notification or recipient state.
func (e *Engine) SendTest(ctx context.Context, channelName, identifier, content string, opts channel.SendOptions) (channel.SendResult, error) {
	var adapter channel.Adapter
	if channelName != "" {
		a, ok := e.Channels.Get(channelName)
		if !ok {
			return channel.SendResult{}, fmt.Errorf("%w: %q", channel.ErrNoAdapter, channelName)
		}
		adapter = a
	} else {
		a, err := e.Channels.Default()
		if err != nil {
			return channel.SendResult{}, err
		}
		adapter = a
	}

	timeout := e.SendTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return adapter.Send(ctx, identifier, content, opts), nil
}
