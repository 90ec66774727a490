package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/core/notifications"
	"github.com/frostdev-ops/pma-monitor/internal/websocket"
)

// HubSender pushes notifications to connected dashboards
type HubSender struct {
	channelID string
	hub       *websocket.Hub
}

func NewHubSender(channelID string, hub *websocket.Hub) *HubSender {
	return &HubSender{channelID: channelID, hub: hub}
}

// Send implements notifications.Sender
func (s *HubSender) Send(_ context.Context, n notifications.Notification) error {
	s.hub.BroadcastToAll(websocket.NotificationMessage(s.channelID, n))
	return nil
}

// LogSender writes notifications to the application log
type LogSender struct {
	channelID string
	logger    *logrus.Logger
}

func NewLogSender(channelID string, logger *logrus.Logger) *LogSender {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogSender{channelID: channelID, logger: logger}
}

// Send implements notifications.Sender
func (s *LogSender) Send(_ context.Context, n notifications.Notification) error {
	s.logger.WithFields(logrus.Fields{
		"channel_id": s.channelID,
		"severity":   n.Severity,
		"alert_id":   n.AlertID,
		"items":      len(n.Items),
	}).Info(n.Title)
	return nil
}
