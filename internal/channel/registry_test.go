package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/example/dispatch-service/internal/store"
)

type fakeAdapter struct{ name string }

func (a *fakeAdapter) Name() string                       { return a.name }
func (a *fakeAdapter) FormatIdentifier(raw string) string { return raw }
func (a *fakeAdapter) ValidateIdentifier(string) bool     { return true }
func (a *fakeAdapter) Send(context.Context, string, string, SendOptions) SendResult {
	return Success("x")
}

func strPtr(s string) *string { return &s }

func TestRegistryResolveFor(t *testing.T) {
	telegram := &fakeAdapter{name: "telegram"}
	whatsapp := &fakeAdapter{name: "whatsapp"}
	mock := &fakeAdapter{name: "mock"}
	registry := NewRegistry("mock", telegram, whatsapp, mock)

	tests := []struct {
		name     string
		n        store.Notification
		c        store.Contact
		expected string
	}{
		{
			name:     "contact preference wins",
			n:        store.Notification{Channel: store.ChannelWhatsApp},
			c:        store.Contact{PreferredChannel: store.ChannelTelegram, TelegramChatID: strPtr("123")},
			expected: "telegram",
		},
		{
			name:     "preference without identifier falls back to notification channel",
			n:        store.Notification{Channel: store.ChannelWhatsApp},
			c:        store.Contact{PreferredChannel: store.ChannelTelegram, Phone: strPtr("+33612345678")},
			expected: "whatsapp",
		},
		{
			name:     "no preference uses notification channel",
			n:        store.Notification{Channel: store.ChannelTelegram},
			c:        store.Contact{TelegramChatID: strPtr("123")},
			expected: "telegram",
		},
		{
			name:     "nothing set falls back to default",
			n:        store.Notification{},
			c:        store.Contact{},
			expected: "mock",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, err := registry.ResolveFor(tc.n, tc.c)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if adapter.Name() != tc.expected {
				t.Fatalf("resolved %q, expected %q", adapter.Name(), tc.expected)
			}
		})
	}
}

func TestRegistryMissingDefault(t *testing.T) {
	registry := NewRegistry("telegram")
	if _, err := registry.ResolveFor(store.Notification{}, store.Contact{}); !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("expected ErrNoAdapter, got %v", err)
	}
}
