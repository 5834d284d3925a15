package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Bridge connection states reported by GET /status.
const (
	BridgeDisconnected = "disconnected"
	BridgeConnecting   = "connecting"
	BridgeQRReady      = "qr_ready"
	BridgeConnected    = "connected"
)

// WhatsAppBridge delivers messages through a local HTTP sidecar that owns the
// actual WhatsApp session. Besides sending it exposes the sidecar's
// connection-lifecycle calls for the admin surface.
type WhatsAppBridge struct {
	BridgeURL   string
	CountryCode string
	Client      *http.Client
	AdminClient *http.Client
	Logger      zerolog.Logger
}

func (w *WhatsAppBridge) Name() string { return "whatsapp" }

// FormatIdentifier normalizes a phone number: whitespace and separators are
// stripped, a leading '+' survives, and a local-format leading zero is
// replaced by the configured default country code. Idempotent.
func (w *WhatsAppBridge) FormatIdentifier(raw string) string {
	s := strings.TrimSpace(raw)
	plus := strings.HasPrefix(s, "+")

	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if d == "" {
		return ""
	}
	if plus {
		return "+" + d
	}
	if strings.HasPrefix(d, "0") {
		return "+" + countryCodeDigits(w.CountryCode) + d[1:]
	}
	return "+" + d
}

func (w *WhatsAppBridge) ValidateIdentifier(value string) bool {
	n := len(strings.TrimPrefix(value, "+"))
	return n >= 10 && n <= 15
}

type bridgeSendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type bridgeSendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

func (w *WhatsAppBridge) Send(ctx context.Context, identifier, message string, _ SendOptions) SendResult {
	phone := w.FormatIdentifier(identifier)
	if !w.ValidateIdentifier(phone) {
		return Failure("whatsapp: invalid phone number")
	}

	body, err := json.Marshal(bridgeSendRequest{Phone: phone, Message: message})
	if err != nil {
		return Failure("whatsapp: encode request failed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BridgeURL+"/send", bytes.NewReader(body))
	if err != nil {
		return Failure("whatsapp: build request failed")
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		w.Logger.Error().Err(err).Str("phone", phone).Msg("whatsapp bridge request failed")
		return Failure("whatsapp: bridge unreachable")
	}
	defer resp.Body.Close()

	var decoded bridgeSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		w.Logger.Error().Err(err).Int("status", resp.StatusCode).Msg("whatsapp bridge response unreadable")
		return Failure("whatsapp: unreadable bridge response")
	}

	if !decoded.Success || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := decoded.Error
		if msg == "" {
			msg = "whatsapp: send rejected (" + resp.Status + ")"
		}
		w.Logger.Error().Str("phone", phone).Str("bridge_error", decoded.Error).Int("status", resp.StatusCode).Msg("whatsapp send failed")
		return Failure(msg)
	}

	result := Success(decoded.MessageID)
	result.Metadata = map[string]string{"phone": phone}
	return result
}

// BridgeStatus is a snapshot of the sidecar's connection state.
type BridgeStatus struct {
	Status string `json:"status"`
	HasQR  bool   `json:"hasQR"`
	Error  string `json:"error,omitempty"`
}

func (w *WhatsAppBridge) Status(ctx context.Context) (BridgeStatus, error) {
	var status BridgeStatus
	if err := w.adminGet(ctx, "/status", &status); err != nil {
		return BridgeStatus{}, err
	}
	return status, nil
}

// QR returns the pairing QR code as a data URL, available while the sidecar
// is in the qr_ready state.
func (w *WhatsAppBridge) QR(ctx context.Context) (string, error) {
	var payload struct {
		QR string `json:"qr"`
	}
	if err := w.adminGet(ctx, "/qr", &payload); err != nil {
		return "", err
	}
	if payload.QR == "" {
		return "", errors.New("whatsapp: no QR code available")
	}
	return payload.QR, nil
}

func (w *WhatsAppBridge) Logout(ctx context.Context) error {
	return w.adminPost(ctx, "/logout")
}

func (w *WhatsAppBridge) Reconnect(ctx context.Context) error {
	return w.adminPost(ctx, "/reconnect")
}

func (w *WhatsAppBridge) adminGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.BridgeURL+path, nil)
	if err != nil {
		return fmt.Errorf("whatsapp bridge %s: %w", path, err)
	}
	resp, err := w.admin().Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp bridge %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp bridge %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("whatsapp bridge %s: decode: %w", path, err)
	}
	return nil
}

func (w *WhatsAppBridge) adminPost(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BridgeURL+path, nil)
	if err != nil {
		return fmt.Errorf("whatsapp bridge %s: %w", path, err)
	}
	resp, err := w.admin().Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp bridge %s: %w", path, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("whatsapp bridge %s: decode: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !payload.Success {
		return fmt.Errorf("whatsapp bridge %s: rejected (%s)", path, resp.Status)
	}
	return nil
}

func (w *WhatsAppBridge) admin() *http.Client {
	if w.AdminClient != nil {
		return w.AdminClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func countryCodeDigits(code string) string {
	var digits strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "33"
	}
	return digits.String()
}
