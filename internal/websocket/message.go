package websocket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/frostdev-ops/pma-monitor/internal/core/events"
)

// Message types for WebSocket communication. Bus events are forwarded with
// their topic as the type, e.g. "alert:created".
const (
	MessageTypeConnection   = "connection"
	MessageTypeHeartbeat    = "heartbeat"
	MessageTypePong         = "pong"
	MessageTypeNotification = "notification"

	// Client requests
	MessageTypePing        = "ping"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m Message) ToJSON() []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, _ := json.Marshal(m)
	return data
}

// UnmarshalJSON accepts RFC3339 timestamps as well as unix seconds or
// milliseconds, as numbers or strings. A missing timestamp means now.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Type = raw.Type
	m.Data = nil
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		var payload interface{}
		if err := json.Unmarshal(raw.Data, &payload); err != nil {
			return fmt.Errorf("invalid message data: %w", err)
		}
		m.Data = payload
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	m.Timestamp = ts
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now().UTC(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %s", string(raw))
		}
		return fromUnix(int64(n)), nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromUnix(n), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// fromUnix treats values above 1e12 as milliseconds
func fromUnix(n int64) time.Time {
	if n > 1e12 {
		return time.Unix(0, n*int64(time.Millisecond))
	}
	return time.Unix(n, 0)
}

// EventMessage wraps a bus event for dashboards
func EventMessage(e events.Event) Message {
	return Message{
		Type:      e.Topic,
		Data:      e.Payload,
		Timestamp: e.Timestamp.UTC(),
	}
}

// NotificationMessage is pushed by the websocket notification transport
func NotificationMessage(channelID string, payload interface{}) Message {
	return Message{
		Type: MessageTypeNotification,
		Data: map[string]interface{}{
			"channel_id":   channelID,
			"notification": payload,
		},
	}
}

// topicsFrom reads the topic list of a subscribe or unsubscribe request
func topicsFrom(data interface{}) []string {
	m, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	list, ok := m["topics"].([]interface{})
	if !ok {
		if s, ok := m["topic"].(string); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
