package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/dispatch-service/internal/channel"
	"github.com/example/dispatch-service/internal/events"
	"github.com/example/dispatch-service/internal/store"
)

type memStore struct {
	mu           sync.Mutex
	notification store.Notification
	recipients   map[string]*store.Recipient
	order        []string
	contacts     map[string]store.Contact
}

func newMemStore(n store.Notification, contacts []store.Contact, recipients []store.Recipient) *memStore {
	s := &memStore{
		notification: n,
		recipients:   map[string]*store.Recipient{},
		contacts:     map[string]store.Contact{},
	}
	for _, c := range contacts {
		s.contacts[c.ID] = c
	}
	for i := range recipients {
		r := recipients[i]
		s.recipients[r.ID] = &r
		s.order = append(s.order, r.ID)
	}
	return s
}

func (s *memStore) GetNotification(_ context.Context, id string) (store.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notification.ID != id {
		return store.Notification{}, store.ErrNotFound
	}
	return s.notification, nil
}

func (s *memStore) UpdateNotificationStatus(_ context.Context, id string, status store.NotificationStatus, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notification.ID != id {
		return store.ErrNotFound
	}
	if s.notification.Status.Terminal() {
		return store.ErrStatusConflict
	}
	s.notification.Status = status
	if sentAt != nil {
		s.notification.SentAt = sentAt
	}
	return nil
}

func (s *memStore) ListRecipients(_ context.Context, notificationID string) ([]store.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Recipient, 0, len(s.order))
	for _, id := range s.order {
		r := s.recipients[id]
		if r.NotificationID == notificationID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) GetContact(_ context.Context, id string) (store.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return store.Contact{}, store.ErrNotFound
	}
	return c, nil
}

func (s *memStore) MarkRecipientSent(_ context.Context, id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != store.RecipientPending {
		return store.ErrStatusConflict
	}
	r.Status = store.RecipientSent
	r.SentAt = &sentAt
	return nil
}

func (s *memStore) MarkRecipientFailed(_ context.Context, id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != store.RecipientPending {
		return store.ErrStatusConflict
	}
	r.Status = store.RecipientFailed
	r.ErrorMessage = &message
	return nil
}

type capturePublisher struct {
	mu            sync.Mutex
	recipients    []events.RecipientUpdated
	notifications []events.NotificationUpdated
}

func (p *capturePublisher) PublishRecipientUpdated(_ context.Context, ev events.RecipientUpdated) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recipients = append(p.recipients, ev)
}

func (p *capturePublisher) PublishNotificationUpdated(_ context.Context, ev events.NotificationUpdated) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, ev)
}

type stubAdapter struct {
	name     string
	calls    int32
	mu       sync.Mutex
	messages map[string]string
	failFor  map[string]string
}

func (a *stubAdapter) Name() string                       { return a.name }
func (a *stubAdapter) FormatIdentifier(raw string) string { return raw }
func (a *stubAdapter) ValidateIdentifier(v string) bool   { return v != "" }

func (a *stubAdapter) Send(_ context.Context, identifier, message string, _ channel.SendOptions) channel.SendResult {
	atomic.AddInt32(&a.calls, 1)
	a.mu.Lock()
	if a.messages == nil {
		a.messages = map[string]string{}
	}
	a.messages[identifier] = message
	a.mu.Unlock()
	if msg, fail := a.failFor[identifier]; fail {
		return channel.Failure(msg)
	}
	return channel.Success("msg-" + identifier)
}

func chatContact(id, name, chatID string) store.Contact {
	return store.Contact{ID: id, Name: name, TelegramChatID: &chatID, Active: true}
}

func pendingRecipient(id, notificationID, contactID string) store.Recipient {
	return store.Recipient{ID: id, NotificationID: notificationID, ContactID: contactID, Status: store.RecipientPending}
}

func newEngine(s Store, adapter channel.Adapter, pub events.Publisher) *Engine {
	return &Engine{
		Store:     s,
		Channels:  channel.NewRegistry(adapter.Name(), adapter),
		Publisher: pub,
		Logger:    zerolog.Nop(),
		Workers:   3,
	}
}

func TestSendAllSucceed(t *testing.T) {
	n := store.Notification{ID: "n1", Content: "Hello {{name}}", Channel: store.ChannelTelegram, Status: store.NotificationQueued}
	s := newMemStore(n,
		[]store.Contact{chatContact("c1", "Alice", "100"), chatContact("c2", "Bob", "200")},
		[]store.Recipient{pendingRecipient("r1", "n1", "c1"), pendingRecipient("r2", "n1", "c2")},
	)
	adapter := &stubAdapter{name: "telegram"}
	pub := &capturePublisher{}

	require.NoError(t, newEngine(s, adapter, pub).Send(context.Background(), "n1"))

	require.Equal(t, store.NotificationSent, s.notification.Status)
	require.NotNil(t, s.notification.SentAt)
	for _, id := range []string{"r1", "r2"} {
		require.Equal(t, store.RecipientSent, s.recipients[id].Status)
		require.NotNil(t, s.recipients[id].SentAt)
	}
	require.Len(t, pub.recipients, 2)
	require.Len(t, pub.notifications, 1)
	require.Equal(t, string(store.NotificationSent), pub.notifications[0].Status)
}

func TestSendPersonalizesPerRecipient(t *testing.T) {
	n := store.Notification{ID: "n1", Content: "Hello {{name}}", Channel: store.ChannelTelegram, Status: store.NotificationQueued}
	s := newMemStore(n,
		[]store.Contact{chatContact("c1", "Alice", "100"), chatContact("c2", "Bob", "200")},
		[]store.Recipient{pendingRecipient("r1", "n1", "c1"), pendingRecipient("r2", "n1", "c2")},
	)
	adapter := &stubAdapter{name: "telegram"}

	require.NoError(t, newEngine(s, adapter, &capturePublisher{}).Send(context.Background(), "n1"))

	require.Equal(t, "Hello Alice", adapter.messages["100"])
	require.Equal(t, "Hello Bob", adapter.messages["200"])
}

func TestSendPartialFailure(t *testing.T) {
	n := store.Notification{ID: "n1", Content: "hi", Channel: store.ChannelTelegram, Status: store.NotificationQueued}
	s := newMemStore(n,
		[]store.Contact{
			chatContact("c1", "A", "100"),
			chatContact("c2", "B", "200"),
			chatContact("c3", "C", "300"),
			chatContact("c4", "D", "400"),
		},
		[]store.Recipient{
			pendingRecipient("r1", "n1", "c1"),
			pendingRecipient("r2", "n1", "c2"),
			pendingRecipient("r3", "n1", "c3"),
			pendingRecipient("r4", "n1", "c4"),
		},
	)
	adapter := &stubAdapter{name: "telegram", failFor: map[string]string{"300": "chat not found"}}

	require.NoError(t, newEngine(s, adapter, &capturePublisher{}).Send(context.Background(), "n1"))

	require.Equal(t, store.NotificationPartial, s.notification.Status)
	require.Equal(t, store.RecipientFailed, s.recipients["r3"].Status)
	require.Equal(t, "chat not found", *s.recipients["r3"].ErrorMessage)
	require.Nil(t, s.recipients["r3"].SentAt)

	// a completed run leaves no recipient pending
	for _, r := range s.recipients {
		require.NotEqual(t, store.RecipientPending, r.Status)
	}
}

func TestSendAllFailed(t *testing.T) {
	n := store.Notification{ID: "n1", Content: "hi", Channel: store.ChannelTelegram, Status: store.NotificationQueued}
	s := newMemStore(n,
		[]store.Contact{chatContact("c1", "A", "100")},
		[]store.Recipient{pendingRecipient("r1", "n1", "c1")},
	)
	adapter := &stubAdapter{name: "telegram", failFor: map[string]string{"100": "boom"}}

	require.NoError(t, newEngine(s, adapter, &capturePublisher{}).Send(context.Background(), "n1"))

	// single failing recipient resolves to failed, not partial
	require.Equal(t, store.NotificationFailed, s.notification.Status)
}

func TestSendContactMissingOrInactive(t *testing.T) {
	inactive := chatContact("c2", "B", "200")
	inactive.Active = false

	n := store.Notification{ID: "n1", Content: "hi", Channel: store.ChannelTelegram, Status: store.NotificationQueued}
	s := newMemStore(n,
		[]store.Contact{inactive},
		[]store.Recipient{
			pendingRecipient("r1", "n1", "missing"),
			pendingRecipient("r2", "n1", "c2"),
		},
	)
	adapter := &stubAdapter{name: "telegram"}
	pub := &capturePublisher{}

	require.NoError(t, newEngine(s, adapter, pub).Send(context.Background(), "n1"))

	require.Equal(t, store.NotificationFailed, s.notification.Status)
	require.EqualValues(t, 0, atomic.LoadInt32(&adapter.calls), "no adapter call for unusable contacts")
	for _, id := range []string{"r1", "r2"} {
		require.Equal(t, store.RecipientFailed, s.recipients[id].Status)
		require.Equal(t, contactUnavailableMessage, *s.recipients[id].ErrorMessage)
	}
	require.Len(t, pub.recipients, 2)
}

func TestSendSkipsTerminalNotification(t *testing.T) {
	n := store.Notification{ID: "n1", Content: "hi", Channel: store.ChannelTelegram, Status: store.NotificationSent}
	s := newMemStore(n,
		[]store.Contact{chatContact("c1", "A", "100")},
		[]store.Recipient{pendingRecipient("r1", "n1", "c1")},
	)
	adapter := &stubAdapter{name: "telegram"}
	pub := &capturePublisher{}

	require.NoError(t, newEngine(s, adapter, pub).Send(context.Background(), "n1"))

	require.EqualValues(t, 0, atomic.LoadInt32(&adapter.calls))
	require.Empty(t, pub.notifications)
}

func TestSendDoesNotRevisitDecidedRecipients(t *testing.T) {
	sentAt := time.Now().UTC()
	decided := store.Recipient{ID: "r1", NotificationID: "n1", ContactID: "c1", Status: store.RecipientSent, SentAt: &sentAt}

	n := store.Notification{ID: "n1", Content: "hi", Channel: store.ChannelTelegram, Status: store.NotificationQueued}
	s := newMemStore(n,
		[]store.Contact{chatContact("c1", "A", "100"), chatContact("c2", "B", "200")},
		[]store.Recipient{decided, pendingRecipient("r2", "n1", "c2")},
	)
	adapter := &stubAdapter{name: "telegram"}

	require.NoError(t, newEngine(s, adapter, &capturePublisher{}).Send(context.Background(), "n1"))

	require.EqualValues(t, 1, atomic.LoadInt32(&adapter.calls), "only the pending recipient is attempted")
	require.Equal(t, store.RecipientSent, s.recipients["r1"].Status)
	require.Equal(t, sentAt, *s.recipients["r1"].SentAt)
	require.Equal(t, store.NotificationSent, s.notification.Status)
}

type flakyMarkStore struct {
	*memStore
	sentFailures int32
}

func (s *flakyMarkStore) MarkRecipientSent(ctx context.Context, id string, sentAt time.Time) error {
	if atomic.AddInt32(&s.sentFailures, -1) >= 0 {
		return errors.New("connection reset by peer")
	}
	return s.memStore.MarkRecipientSent(ctx, id, sentAt)
}

func TestSendSurfacesPersistFailures(t *testing.T) {
	n := store.Notification{ID: "n1", Content: "hi", Channel: store.ChannelTelegram, Status: store.NotificationQueued}
	mem := newMemStore(n,
		[]store.Contact{chatContact("c1", "A", "100")},
		[]store.Recipient{pendingRecipient("r1", "n1", "c1")},
	)
	s := &flakyMarkStore{memStore: mem, sentFailures: 1}
	adapter := &stubAdapter{name: "telegram"}
	e := newEngine(s, adapter, &capturePublisher{})

	// an outcome that cannot be persisted must not be sealed under a
	// terminal status
	err := e.Send(context.Background(), "n1")
	require.Error(t, err)
	require.Equal(t, store.NotificationSending, mem.notification.Status)
	require.Equal(t, store.RecipientPending, mem.recipients["r1"].Status)

	// the retry pass completes the cycle
	require.NoError(t, e.Send(context.Background(), "n1"))
	require.Equal(t, store.NotificationSent, mem.notification.Status)
	require.Equal(t, store.RecipientSent, mem.recipients["r1"].Status)
}

func TestSendUnknownNotification(t *testing.T) {
	s := newMemStore(store.Notification{ID: "n1"}, nil, nil)
	e := newEngine(s, &stubAdapter{name: "telegram"}, &capturePublisher{})

	err := e.Send(context.Background(), "other")
	require.Error(t, err)
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSendTest(t *testing.T) {
	adapter := &stubAdapter{name: "telegram"}
	e := newEngine(newMemStore(store.Notification{ID: "n1"}, nil, nil), adapter, &capturePublisher{})

	result, err := e.SendTest(context.Background(), "telegram", "100", "ping", channel.SendOptions{})
	require.NoError(t, err)
	require.True(t, result.OK)
	require.EqualValues(t, 1, atomic.LoadInt32(&adapter.calls))

	_, err = e.SendTest(context.Background(), "carrier-pigeon", "100", "ping", channel.SendOptions{})
	require.True(t, errors.Is(err, channel.ErrNoAdapter))

	// empty channel name falls back to the default adapter
	result, err = e.SendTest(context.Background(), "", "100", "ping", channel.SendOptions{})
	require.NoError(t, err)
	require.True(t, result.OK)
}
