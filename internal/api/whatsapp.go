package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Admin pass-through to the WhatsApp bridge sidecar. Not part of the dispatch
// hot path; used by the admin UI to pair and babysit the session.

func (h *Handler) whatsappStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "whatsapp_status")
	defer span.End()

	if h.whatsapp == nil {
		h.respondErr(ctx, w, "whatsapp", http.StatusServiceUnavailable, errors.New("whatsapp bridge not configured"))
		return
	}
	status, err := h.whatsapp.Status(ctx)
	if err != nil {
		h.respondErr(ctx, w, "whatsapp", http.StatusBadGateway, err)
		return
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (h *Handler) whatsappQR(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "whatsapp_qr")
	defer span.End()

	if h.whatsapp == nil {
		h.respondErr(ctx, w, "whatsapp", http.StatusServiceUnavailable, errors.New("whatsapp bridge not configured"))
		return
	}
	qr, err := h.whatsapp.QR(ctx)
	if err != nil {
		h.respondErr(ctx, w, "whatsapp", http.StatusBadGateway, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"qr": qr})
}

func (h *Handler) whatsappLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "whatsapp_logout")
	defer span.End()

	if h.whatsapp == nil {
		h.respondErr(ctx, w, "whatsapp", http.StatusServiceUnavailable, errors.New("whatsapp bridge not configured"))
		return
	}
	if err := h.whatsapp.Logout(ctx); err != nil {
		h.respondErr(ctx, w, "whatsapp", http.StatusBadGateway, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (h *Handler) whatsappReconnect(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "whatsapp_reconnect")
	defer span.End()

	if h.whatsapp == nil {
		h.respondErr(ctx, w, "whatsapp", http.StatusServiceUnavailable, errors.New("whatsapp bridge not configured"))
		return
	}
	if err := h.whatsapp.Reconnect(ctx); err != nil {
		h.respondErr(ctx, w, "whatsapp", http.StatusBadGateway, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
