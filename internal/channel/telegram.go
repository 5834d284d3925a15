package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var chatIDPattern = regexp.MustCompile(`^-?\d+$`)

// Telegram delivers messages through the Telegram bot API.
type Telegram struct {
	APIURL string
	Token  string
	Client *http.Client
	Logger zerolog.Logger
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) FormatIdentifier(raw string) string {
	return strings.TrimSpace(raw)
}

func (t *Telegram) ValidateIdentifier(value string) bool {
	return chatIDPattern.MatchString(value)
}

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, identifier, message string, opts SendOptions) SendResult {
	chatID := t.FormatIdentifier(identifier)
	if !t.ValidateIdentifier(chatID) {
		return Failure("telegram: invalid chat id")
	}

	payload := telegramRequest{ChatID: chatID, Text: message, ParseMode: normalizeParseMode(opts.ParseMode)}
	body, err := json.Marshal(payload)
	if err != nil {
		return Failure("telegram: encode request failed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.APIURL+"/bot"+t.Token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return Failure("telegram: build request failed")
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Logger.Error().Err(err).Str("chat_id", chatID).Msg("telegram request failed")
		return Failure("telegram: request failed")
	}
	defer resp.Body.Close()

	var decoded telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Logger.Error().Err(err).Int("status", resp.StatusCode).Msg("telegram response unreadable")
		return Failure("telegram: unreadable response")
	}

	if !decoded.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := decoded.Description
		if msg == "" {
			msg = "telegram: send rejected (" + resp.Status + ")"
		}
		t.Logger.Error().Str("chat_id", chatID).Str("description", decoded.Description).Int("status", resp.StatusCode).Msg("telegram send failed")
		return Failure(msg)
	}

	result := Success(strconv.FormatInt(decoded.Result.MessageID, 10))
	result.Metadata = map[string]string{"chat_id": chatID}
	return result
}

// normalizeParseMode keeps only modes the bot API accepts. Anything else is
// treated as absent.
func normalizeParseMode(mode string) string {
	switch strings.ToLower(mode) {
	case "html":
		return "HTML"
	case "markdown":
		return "Markdown"
	case "markdownv2":
		return "MarkdownV2"
	default:
		return ""
	}
}
