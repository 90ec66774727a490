package websocket

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/core/events"
)

type outbound struct {
	topic string
	data  []byte
}

type direct struct {
	client *Client
	data   []byte
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages, filtered per client by topic
	broadcast chan outbound

	// Replies addressed to a single client
	direct chan direct

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	logger     *logrus.Logger
	sendBuffer int

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Statistics
	stats *HubStats
}

// HubStats contains hub statistics
type HubStats struct {
	ConnectedClients int       `json:"connected_clients"`
	TotalConnections int64     `json:"total_connections"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	MessagesDropped  int64     `json:"messages_dropped"`
	LastActivity     time.Time `json:"last_activity"`
}

// NewHub creates a new WebSocket hub. sendBuffer is the per-client queue size.
func NewHub(logger *logrus.Logger, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		direct:     make(chan direct, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		sendBuffer: sendBuffer,
		stats: &HubStats{
			LastActivity: time.Now(),
		},
	}
}

// Run starts the hub and handles client registration/unregistration and
// broadcasting until Stop is called
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case d := <-h.direct:
			h.sendDirect(d)

		case <-ticker.C:
			h.sendHeartbeat()

		case <-h.done:
			h.closeAll()
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

// Stop disconnects every client and ends Run
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// AttachBus forwards every bus event to subscribed clients
func (h *Hub) AttachBus(bus *events.Bus) events.Subscription {
	return bus.Subscribe(events.Wildcard, func(e events.Event) error {
		h.Publish(e.Topic, EventMessage(e))
		return nil
	})
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ConnectedClients = len(h.clients)
	h.stats.LastActivity = time.Now()
	connected := len(h.clients)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"remote_addr":       client.RemoteAddr,
		"connected_clients": connected,
	}).Info("WebSocket client connected")

	welcome := Message{
		Type: MessageTypeConnection,
		Data: map[string]interface{}{
			"status":    "connected",
			"client_id": client.ID,
		},
	}
	h.enqueue(client, welcome.ToJSON())
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.stats.ConnectedClients = len(h.clients)
		h.stats.LastActivity = time.Now()

		h.logger.WithFields(logrus.Fields{
			"client_id":         client.ID,
			"connected_clients": len(h.clients),
		}).Info("WebSocket client disconnected")
	}
}

func (h *Hub) broadcastMessage(message outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.Wants(message.topic) {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.enqueue(client, message.data)
	}

	h.mu.Lock()
	h.stats.MessagesSent++
	h.stats.LastActivity = time.Now()
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"topic":        message.topic,
		"message_size": len(message.data),
		"clients_sent": len(clients),
	}).Debug("Message broadcasted to WebSocket clients")
}

func (h *Hub) sendDirect(d direct) {
	h.mu.RLock()
	_, ok := h.clients[d.client]
	h.mu.RUnlock()
	if ok {
		h.enqueue(d.client, d.data)
	}
}

// enqueue must only be called from Run. A client whose queue is full is
// disconnected.
func (h *Hub) enqueue(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.mu.Lock()
		h.stats.MessagesDropped++
		h.mu.Unlock()
		h.logger.WithField("client_id", client.ID).Warn("WebSocket client too slow, disconnecting")
		h.unregisterClient(client)
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.unregisterClient(client)
	}
}

func (h *Hub) sendHeartbeat() {
	h.mu.RLock()
	connected := len(h.clients)
	h.mu.RUnlock()

	h.BroadcastToAll(Message{
		Type: MessageTypeHeartbeat,
		Data: map[string]interface{}{
			"clients": connected,
		},
	})
}

// BroadcastToAll broadcasts a message to all connected clients regardless of
// their subscriptions
func (h *Hub) BroadcastToAll(message Message) {
	h.Publish("", message)
}

// Publish queues a message for clients subscribed to topic
func (h *Hub) Publish(topic string, message Message) {
	select {
	case h.broadcast <- outbound{topic: topic, data: message.ToJSON()}:
	default:
		h.mu.Lock()
		h.stats.MessagesDropped++
		h.mu.Unlock()
		h.logger.WithField("topic", topic).Warn("Broadcast channel is full, message dropped")
	}
}

func (h *Hub) reply(client *Client, message Message) {
	select {
	case h.direct <- direct{client: client, data: message.ToJSON()}:
	case <-h.done:
	}
}

func (h *Hub) countReceived() {
	h.mu.Lock()
	h.stats.MessagesReceived++
	h.stats.LastActivity = time.Now()
	h.mu.Unlock()
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() *HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	statsCopy := *h.stats
	statsCopy.ConnectedClients = len(h.clients)
	return &statsCopy
}

// GetClientCount returns the current number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
