package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/frostdev-ops/pma-monitor/internal/core/notifications"
)

const defaultRedisChannel = "pma:notifications"

// RedisSender publishes notifications on a Redis pub/sub channel
type RedisSender struct {
	client  *redis.Client
	channel string
}

// NewRedisSender creates a Redis transport
func NewRedisSender(client *redis.Client, channel string) *RedisSender {
	if channel == "" {
		channel = defaultRedisChannel
	}
	return &RedisSender{client: client, channel: channel}
}

// Send implements notifications.Sender
func (s *RedisSender) Send(ctx context.Context, n notifications.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.channel, err)
	}
	return nil
}
