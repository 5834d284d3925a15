package channel

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/example/dispatch-service/internal/common"
)

// FromConfig builds the registry both binaries share. Telegram is only
// registered when a bot token is configured; the mock adapter is always
// available so non-production environments can default to it.
func FromConfig(cfg *common.Config, logger zerolog.Logger) *Registry {
	adapters := []Adapter{
		&Mock{Latency: 50 * time.Millisecond},
		&WhatsAppBridge{
			BridgeURL:   cfg.WhatsAppBridgeURL,
			CountryCode: cfg.DefaultCountryCode,
			Logger:      logger,
		},
	}
	if cfg.TelegramToken != "" {
		adapters = append(adapters, &Telegram{
			APIURL: cfg.TelegramAPIURL,
			Token:  cfg.TelegramToken,
			Logger: logger,
		})
	}
	return NewRegistry(cfg.DefaultChannel, adapters...)
}
