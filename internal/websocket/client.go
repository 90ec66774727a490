package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/core/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	// Unique client identifier
	ID string

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Hub reference
	hub *Hub

	// Logger
	logger *logrus.Logger

	// Client metadata
	UserAgent   string    `json:"user_agent"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`

	// Topic prefixes the client asked for. Empty means everything.
	mu     sync.RWMutex
	topics map[string]bool
}

// HandleWebSocket handles websocket requests from clients
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := newClient(hub, conn, r)
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			client.topics[t] = true
		}
	}

	select {
	case client.hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines
	go client.writePump()
	go client.readPump()
}

func newClient(hub *Hub, conn *websocket.Conn, r *http.Request) *Client {
	c := &Client{
		ID:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, hub.sendBuffer),
		hub:         hub,
		logger:      hub.logger,
		ConnectedAt: time.Now(),
		topics:      make(map[string]bool),
	}
	if r != nil {
		c.UserAgent = r.Header.Get("User-Agent")
		c.RemoteAddr = r.RemoteAddr
	}
	return c
}

// HandleWebSocketGin is a Gin-compatible wrapper for HandleWebSocket
func HandleWebSocketGin(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		HandleWebSocket(hub, c.Writer, c.Request)
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		c.hub.countReceived()
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.WithError(err).Warn("Failed to unmarshal WebSocket message")
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		c.Subscribe(topicsFrom(msg.Data)...)
	case MessageTypeUnsubscribe:
		c.Unsubscribe(topicsFrom(msg.Data)...)
	case MessageTypePing:
		c.hub.reply(c, Message{Type: MessageTypePong})
	default:
		c.logger.WithField("message_type", msg.Type).Warn("Unknown WebSocket message type")
	}
}

// Subscribe adds topic prefixes, e.g. "alert:" or "metric:cpu_usage"
func (c *Client) Subscribe(topics ...string) {
	c.mu.Lock()
	for _, t := range topics {
		c.topics[t] = true
	}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"client_id": c.ID,
		"topics":    topics,
	}).Debug("Client subscribed to topics")
}

// Unsubscribe removes topic prefixes
func (c *Client) Unsubscribe(topics ...string) {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.topics, t)
	}
	c.mu.Unlock()
}

// Wants reports whether a message on topic should reach the client. Messages
// without a topic reach every client.
func (c *Client) Wants(topic string) bool {
	if topic == "" {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.topics) == 0 {
		return true
	}
	for prefix := range c.topics {
		if prefix == events.Wildcard || strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}
