package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisPublisher broadcasts state-change events over Redis pub/sub. Publish
// failures are logged and swallowed.
type RedisPublisher struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisPublisher(client *redis.Client, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) PublishRecipientUpdated(ctx context.Context, ev RecipientUpdated) {
	ev.Type = TypeRecipientUpdated
	p.publish(ctx, ev.NotificationID, ev)
}

func (p *RedisPublisher) PublishNotificationUpdated(ctx context.Context, ev NotificationUpdated) {
	ev.Type = TypeNotificationUpdated
	p.publish(ctx, ev.NotificationID, ev)
}

func (p *RedisPublisher) publish(ctx context.Context, notificationID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error().Err(err).Msg("encode status event")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.client.Publish(ctx, Topic(notificationID), body).Err(); err != nil {
		p.logger.Warn().Err(err).Str("notification_id", notificationID).Msg("publish status event failed")
	}
}
