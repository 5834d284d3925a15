package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/dispatch-service/internal/channel"
	"github.com/example/dispatch-service/internal/common"
	"github.com/example/dispatch-service/internal/dispatch"
	"github.com/example/dispatch-service/internal/events"
	"github.com/example/dispatch-service/internal/personalize"
	"github.com/example/dispatch-service/internal/store"
)

var (
	reqCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "Total API requests by route and result",
	}, []string{"route", "status"})
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "Latency of API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

type NotificationStore interface {
	CreateNotification(ctx context.Context, n store.Notification, recipients []store.Recipient) error
	GetNotification(ctx context.Context, id string) (store.Notification, error)
	UpdateNotificationStatus(ctx context.Context, id string, status store.NotificationStatus, sentAt *time.Time) error
	ListRecipients(ctx context.Context, notificationID string) ([]store.Recipient, error)
	GetRecipient(ctx context.Context, id string) (store.Recipient, error)
	MarkRecipientDelivered(ctx context.Context, id string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, notificationID string) error
}

type TestSender interface {
	SendTest(ctx context.Context, channelName, identifier, content string, opts channel.SendOptions) (channel.SendResult, error)
}

type Handler struct {
	store     NotificationStore
	resolver  *dispatch.RecipientResolver
	enqueuer  Enqueuer
	sender    TestSender
	publisher events.Publisher
	whatsapp  *channel.WhatsAppBridge
	tracer    trace.Tracer
	logger    zerolog.Logger
}

func NewHandler(
	st NotificationStore,
	resolver *dispatch.RecipientResolver,
	enqueuer Enqueuer,
	sender TestSender,
	publisher events.Publisher,
	whatsapp *channel.WhatsAppBridge,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		store:     st,
		resolver:  resolver,
		enqueuer:  enqueuer,
		sender:    sender,
		publisher: publisher,
		whatsapp:  whatsapp,
		tracer:    otel.Tracer("api"),
		logger:    logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/notifications", h.createNotification)
	r.Get("/v1/notifications/{id}", h.getNotification)
	r.Post("/v1/notifications/{id}/send", h.enqueueSend)
	r.Post("/v1/send-test", h.sendTest)
	r.Post("/v1/providers/{provider}/delivery", h.deliveryConfirmation)
	r.Get("/v1/whatsapp/status", h.whatsappStatus)
	r.Get("/v1/whatsapp/qr", h.whatsappQR)
	r.Post("/v1/whatsapp/logout", h.whatsappLogout)
	r.Post("/v1/whatsapp/reconnect", h.whatsappReconnect)
	return r
}

type createNotificationRequest struct {
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Channel    string            `json:"channel"`
	Variables  map[string]string `json:"variables"`
	ContactIDs []string          `json:"contact_ids"`
	GroupIDs   []string          `json:"group_ids"`
}

func validateCreateRequest(req createNotificationRequest) error {
	if req.Content == "" {
		return errors.New("content is required")
	}
	if len(req.ContactIDs) == 0 && len(req.GroupIDs) == 0 {
		return errors.New("at least one contact_id or group_id is required")
	}
	switch store.Channel(req.Channel) {
	case "", store.ChannelTelegram, store.ChannelWhatsApp, store.ChannelMock:
		return nil
	default:
		return errors.New("unknown channel")
	}
}

func (h *Handler) createNotification(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "create_notification")
	defer span.End()
	start := time.Now()

	senderID := r.Header.Get("x-sender-id")
	if senderID == "" {
		h.respondErr(ctx, w, "create", http.StatusBadRequest, errors.New("missing x-sender-id header"))
		return
	}

	var req createNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErr(ctx, w, "create", http.StatusBadRequest, err)
		return
	}
	if err := validateCreateRequest(req); err != nil {
		h.respondErr(ctx, w, "create", http.StatusBadRequest, err)
		return
	}

	contacts, err := h.resolver.Resolve(ctx, req.ContactIDs, req.GroupIDs)
	if err != nil {
		h.respondErr(ctx, w, "create", http.StatusInternalServerError, err)
		return
	}
	if len(contacts) == 0 {
		h.respondErr(ctx, w, "create", http.StatusBadRequest, errors.New("no active recipients selected"))
		return
	}

	// Campaign-level variables are substituted once here; per-recipient
	// personalization happens again at send time.
	content := personalize.RenderVars(req.Content, req.Variables)

	n := store.Notification{
		ID:        uuid.NewString(),
		Title:     req.Title,
		Content:   content,
		Channel:   store.Channel(req.Channel),
		Status:    store.NotificationDraft,
		SenderID:  senderID,
		CreatedAt: time.Now().UTC(),
	}
	recipients := make([]store.Recipient, 0, len(contacts))
	for _, c := range contacts {
		recipients = append(recipients, store.Recipient{
			ID:             uuid.NewString(),
			NotificationID: n.ID,
			ContactID:      c.ID,
			Status:         store.RecipientPending,
		})
	}

	if err := h.store.CreateNotification(ctx, n, recipients); err != nil {
		h.respondErr(ctx, w, "create", http.StatusInternalServerError, err)
		return
	}
	span.SetAttributes(attribute.String("notification.id", n.ID), attribute.Int("notification.recipients", len(recipients)))

	reqCounter.WithLabelValues("create", "accepted").Inc()
	requestLatency.WithLabelValues("create").Observe(time.Since(start).Seconds())

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"notification_id": n.ID,
		"status":          n.Status,
		"recipient_count": len(recipients),
	})
}

func (h *Handler) enqueueSend(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "enqueue_send")
	defer span.End()

	id := chi.URLParam(r, "id")
	n, err := h.store.GetNotification(ctx, id)
	if err != nil {
		h.respondErr(ctx, w, "enqueue", statusFor(err), err)
		return
	}
	switch n.Status {
	case store.NotificationDraft, store.NotificationQueued:
	case store.NotificationSending:
		h.respondErr(ctx, w, "enqueue", http.StatusConflict, errors.New("notification is being sent"))
		return
	default:
		h.respondErr(ctx, w, "enqueue", http.StatusConflict, errors.New("notification already resolved"))
		return
	}

	if err := h.store.UpdateNotificationStatus(ctx, n.ID, store.NotificationQueued, nil); err != nil {
		h.respondErr(ctx, w, "enqueue", http.StatusConflict, err)
		return
	}
	if err := h.enqueuer.Enqueue(ctx, n.ID); err != nil {
		h.respondErr(ctx, w, "enqueue", http.StatusInternalServerError, err)
		return
	}
	span.SetAttributes(attribute.String("notification.id", n.ID))

	reqCounter.WithLabelValues("enqueue", "accepted").Inc()
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"notification_id": n.ID,
		"status":          store.NotificationQueued,
	})
}

func (h *Handler) getNotification(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "get_notification")
	defer span.End()

	id := chi.URLParam(r, "id")
	n, err := h.store.GetNotification(ctx, id)
	if err != nil {
		h.respondErr(ctx, w, "get", statusFor(err), err)
		return
	}
	recipients, err := h.store.ListRecipients(ctx, id)
	if err != nil {
		h.respondErr(ctx, w, "get", http.StatusInternalServerError, err)
		return
	}

	type recipientView struct {
		ID        string     `json:"id"`
		ContactID string     `json:"contact_id"`
		Status    string     `json:"status"`
		Error     *string    `json:"error,omitempty"`
		SentAt    *time.Time `json:"sent_at,omitempty"`
	}
	views := make([]recipientView, 0, len(recipients))
	for _, rec := range recipients {
		views = append(views, recipientView{
			ID:        rec.ID,
			ContactID: rec.ContactID,
			Status:    string(rec.Status),
			Error:     rec.ErrorMessage,
			SentAt:    rec.SentAt,
		})
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":         n.ID,
		"title":      n.Title,
		"content":    n.Content,
		"channel":    n.Channel,
		"status":     n.Status,
		"sender_id":  n.SenderID,
		"created_at": n.CreatedAt,
		"sent_at":    n.SentAt,
		"recipients": views,
	})
}

type sendTestRequest struct {
	Channel   string `json:"channel"`
	To        string `json:"to"`
	Message   string `json:"message"`
	ParseMode string `json:"parse_mode"`
}

func (h *Handler) sendTest(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "send_test")
	defer span.End()

	var req sendTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErr(ctx, w, "send_test", http.StatusBadRequest, err)
		return
	}
	if req.To == "" || req.Message == "" {
		h.respondErr(ctx, w, "send_test", http.StatusBadRequest, errors.New("to and message are required"))
		return
	}

	result, err := h.sender.SendTest(ctx, req.Channel, req.To, req.Message, channel.SendOptions{ParseMode: req.ParseMode})
	if err != nil {
		h.respondErr(ctx, w, "send_test", http.StatusBadRequest, err)
		return
	}

	reqCounter.WithLabelValues("send_test", outcomeLabel(result.OK)).Inc()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":         result.OK,
		"message_id": result.MessageID,
		"error":      result.ErrorMessage,
	})
}

func (h *Handler) respondErr(ctx context.Context, w http.ResponseWriter, route string, status int, err error) {
	logger := common.WithContext(ctx, h.logger)
	logger.Error().Err(err).Str("route", route).Int("status", status).Msg("api request failed")
	reqCounter.WithLabelValues(route, http.StatusText(status)).Inc()
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func outcomeLabel(ok bool) string {
	if ok {
		return "sent"
	}
	return "failed"
}
