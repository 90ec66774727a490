package notify

import (
	"context"

	"github.com/frostdev-ops/pma-monitor/internal/core/notifications"
)

// WebhookPayload is the JSON body posted to generic webhooks
type WebhookPayload struct {
	Channel      string                     `json:"channel"`
	Notification notifications.Notification `json:"notification"`
}

// WebhookSender posts notifications as JSON
type WebhookSender struct {
	channelID string
	url       string
	headers   map[string]string
	poster    *poster
}

// NewWebhookSender creates a webhook transport
func NewWebhookSender(channelID, url string, headers map[string]string, p *poster) *WebhookSender {
	return &WebhookSender{channelID: channelID, url: url, headers: headers, poster: p}
}

// Send implements notifications.Sender
func (s *WebhookSender) Send(ctx context.Context, n notifications.Notification) error {
	return s.poster.postJSON(ctx, s.url, s.headers, WebhookPayload{Channel: s.channelID, Notification: n})
}
