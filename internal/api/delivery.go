package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/dispatch-service/internal/events"
	"github.com/example/dispatch-service/internal/store"
)

type deliveryConfirmationRequest struct {
	RecipientID string `json:"recipient_id"`
}

// deliveryConfirmation records a provider-side delivery receipt, the only
// path that moves a recipient from sent to delivered.
func (h *Handler) deliveryConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "delivery_confirmation")
	defer span.End()

	provider := chi.URLParam(r, "provider")
	if provider == "" {
		h.respondErr(ctx, w, "delivery", http.StatusBadRequest, errors.New("provider path param required"))
		return
	}

	var req deliveryConfirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErr(ctx, w, "delivery", http.StatusBadRequest, err)
		return
	}
	if req.RecipientID == "" {
		h.respondErr(ctx, w, "delivery", http.StatusBadRequest, errors.New("recipient_id is required"))
		return
	}

	rec, err := h.store.GetRecipient(ctx, req.RecipientID)
	if err != nil {
		h.respondErr(ctx, w, "delivery", statusFor(err), err)
		return
	}

	if err := h.store.MarkRecipientDelivered(ctx, rec.ID); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			h.respondErr(ctx, w, "delivery", http.StatusConflict, errors.New("recipient is not in sent state"))
			return
		}
		h.respondErr(ctx, w, "delivery", http.StatusInternalServerError, err)
		return
	}
	span.SetAttributes(attribute.String("recipient.id", rec.ID), attribute.String("provider", provider))

	now := time.Now().UTC()
	h.publisher.PublishRecipientUpdated(ctx, events.RecipientUpdated{
		RecipientID:    rec.ID,
		NotificationID: rec.NotificationID,
		ContactID:      rec.ContactID,
		Status:         string(store.RecipientDelivered),
		SentAt:         rec.SentAt,
	})

	reqCounter.WithLabelValues("delivery", "accepted").Inc()
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"recipient_id": rec.ID,
		"status":       store.RecipientDelivered,
		"confirmed_at": now,
	})
}
