package store

import (
	"errors"
	"time"
)

type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelMock     Channel = "mock"
)

type NotificationStatus string

const (
	NotificationDraft   NotificationStatus = "draft"
	NotificationQueued  NotificationStatus = "queued"
	NotificationSending NotificationStatus = "sending"
	NotificationSent    NotificationStatus = "sent"
	NotificationPartial NotificationStatus = "partial"
	NotificationFailed  NotificationStatus = "failed"
)

func (s NotificationStatus) Terminal() bool {
	switch s {
	case NotificationSent, NotificationPartial, NotificationFailed:
		return true
	default:
		return false
	}
}

type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientSent      RecipientStatus = "sent"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientFailed    RecipientStatus = "failed"
)

func (s RecipientStatus) Terminal() bool {
	return s != RecipientPending
}

type Contact struct {
	ID               string
	Name             string
	Phone            *string
	PreferredChannel Channel
	TelegramChatID   *string
	Metadata         map[string]string
	Active           bool
}

// Identifier returns the channel-specific address of the contact: the phone
// number for WhatsApp, the chat id for Telegram. The mock channel accepts
// whichever is present.
func (c Contact) Identifier(ch Channel) (string, bool) {
	switch ch {
	case ChannelWhatsApp:
		if c.Phone != nil && *c.Phone != "" {
			return *c.Phone, true
		}
	case ChannelTelegram:
		if c.TelegramChatID != nil && *c.TelegramChatID != "" {
			return *c.TelegramChatID, true
		}
	case ChannelMock:
		if c.TelegramChatID != nil && *c.TelegramChatID != "" {
			return *c.TelegramChatID, true
		}
		if c.Phone != nil && *c.Phone != "" {
			return *c.Phone, true
		}
	}
	return "", false
}

type Group struct {
	ID   string
	Name string
}

type Notification struct {
	ID        string
	Title     string
	Content   string
	Channel   Channel
	Status    NotificationStatus
	SenderID  string
	CreatedAt time.Time
	SentAt    *time.Time
}

type Recipient struct {
	ID             string
	NotificationID string
	ContactID      string
	Status         RecipientStatus
	ErrorMessage   *string
	SentAt         *time.Time
}

var (
	ErrNotFound = errors.New("store: not found")

	// ErrStatusConflict is returned when an update would move a row out of a
	// terminal state or skip a required predecessor state.
	ErrStatusConflict = errors.New("store: status transition rejected")
)
