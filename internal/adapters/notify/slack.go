package notify

import (
	"context"
	"fmt"

	"github.com/frostdev-ops/pma-monitor/internal/core/notifications"
)

// SlackMessage is an incoming-webhook payload
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment carries the coloured alert body
type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Footer string       `json:"footer,omitempty"`
	Ts     int64        `json:"ts,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackSender posts to a Slack incoming webhook
type SlackSender struct {
	url     string
	channel string
	poster  *poster
}

// NewSlackSender creates a Slack transport
func NewSlackSender(url, channel string, p *poster) *SlackSender {
	return &SlackSender{url: url, channel: channel, poster: p}
}

// Send implements notifications.Sender
func (s *SlackSender) Send(ctx context.Context, n notifications.Notification) error {
	return s.poster.postJSON(ctx, s.url, nil, s.message(n))
}

func (s *SlackSender) message(n notifications.Notification) SlackMessage {
	attachment := SlackAttachment{
		Color:  severityColor(n.Severity),
		Title:  n.Title,
		Text:   n.Body,
		Footer: "pma-monitor",
		Ts:     n.Timestamp.Unix(),
		Fields: []SlackField{{Title: "Severity", Value: n.Severity, Short: true}},
	}
	if n.AlertType != "" {
		attachment.Fields = append(attachment.Fields, SlackField{Title: "Type", Value: n.AlertType, Short: true})
	}
	if n.Source != "" {
		attachment.Fields = append(attachment.Fields, SlackField{Title: "Source", Value: n.Source, Short: true})
	}

	msg := SlackMessage{Channel: s.channel, Text: n.Title, Attachments: []SlackAttachment{attachment}}
	for _, item := range n.Items {
		msg.Attachments = append(msg.Attachments, SlackAttachment{
			Color: severityColor(item.Severity),
			Title: item.Title,
			Text:  fmt.Sprintf("[%s] %s", item.Severity, item.Body),
			Ts:    item.Timestamp.Unix(),
		})
	}
	return msg
}

func severityColor(severity string) string {
	switch severity {
	case "emergency":
		return "#8b0000"
	case "critical":
		return "#dc3545"
	case "warning":
		return "#ffc107"
	default:
		return "#36a64f"
	}
}
