package channel

import (
	"context"
	"errors"
)

// SendOptions carries per-message delivery options. Adapters ignore options
// they do not understand.
type SendOptions struct {
	// ParseMode selects a text formatting mode for channels that support one
	// (Telegram). Unknown values are dropped, never fatal.
	ParseMode string
}

// SendResult is the outcome of a single adapter invocation. It is consumed
// immediately by the dispatch engine and never persisted as-is.
type SendResult struct {
	OK           bool
	MessageID    string
	ErrorMessage string
	Metadata     map[string]string
}

func Success(messageID string) SendResult {
	return SendResult{OK: true, MessageID: messageID}
}

func Failure(message string) SendResult {
	if message == "" {
		message = "delivery failed"
	}
	return SendResult{OK: false, ErrorMessage: message}
}

// Adapter is the uniform interface to one external transport. Send performs
// identifier normalization and validation before any network call and maps
// every transport or provider failure to a SendResult; it never panics and
// never retries.
type Adapter interface {
	Name() string
	FormatIdentifier(raw string) string
	ValidateIdentifier(value string) bool
	Send(ctx context.Context, identifier, message string, opts SendOptions) SendResult
}

var ErrNoAdapter = errors.New("channel: no adapter available")
