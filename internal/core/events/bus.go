package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Wildcard subscribes a handler to every topic
const Wildcard = "*"

// Well-known topics published by the engine
const (
	TopicAlertCreated      = "alert:created"
	TopicAlertUpdated      = "alert:updated"
	TopicAlertAcknowledged = "alert:acknowledged"
	TopicAlertResolved     = "alert:resolved"
	TopicAlertExpired      = "alert:expired"
	TopicDecisionExecuted  = "decision:executed"
	TopicWorkflowCompleted = "workflow:completed"
	TopicWorkflowAborted   = "workflow:aborted"
)

// MetricTopic returns the topic a metric update is published on
func MetricTopic(metricID string) string {
	return "metric:" + metricID
}

// ActionTopic returns the topic an executed action is published on
func ActionTopic(actionType string) string {
	return "action:" + actionType
}

// Event is what handlers receive
type Event struct {
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Handler consumes a published event. A returned error is logged.
type Handler func(Event) error

// Subscription identifies a registered handler
type Subscription struct {
	Topic string `json:"topic"`
	ID    uint64 `json:"id"`
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is an in-process synchronous publish/subscribe register keyed by topic
type Bus struct {
	logger   *logrus.Logger
	mu       sync.RWMutex
	handlers map[string][]subscriber
	nextID   uint64
	failures uint64
}

// NewBus creates an empty bus
func NewBus(logger *logrus.Logger) *Bus {
	return &Bus{
		logger:   logger,
		handlers: make(map[string][]subscriber),
	}
}

// Subscribe registers a handler for a topic and returns its token
func (b *Bus) Subscribe(topic string, handler Handler) Subscription {
	id := atomic.AddUint64(&b.nextID, 1)

	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	return Subscription{Topic: topic, ID: id}
}

// Unsubscribe removes a handler. Unknown tokens are ignored.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	return b.UnsubscribeTopic(sub.Topic, sub.ID)
}

// UnsubscribeTopic removes the handler with the given id from a topic
func (b *Bus) UnsubscribeTopic(topic string, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[topic]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		next := make([]subscriber, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, topic)
		} else {
			b.handlers[topic] = next
		}
		return true
	}
	return false
}

// Publish delivers the payload to every current handler of the topic and to
// wildcard handlers. Handler errors and panics are logged and do not stop
// delivery to the remaining handlers.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	subs := make([]subscriber, 0, len(b.handlers[topic])+len(b.handlers[Wildcard]))
	subs = append(subs, b.handlers[topic]...)
	if topic != Wildcard {
		subs = append(subs, b.handlers[Wildcard]...)
	}
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	evt := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}
	for _, s := range subs {
		b.deliver(s, evt)
	}
}

func (b *Bus) deliver(s subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&b.failures, 1)
			b.logger.WithFields(logrus.Fields{
				"topic":         evt.Topic,
				"subscriber_id": s.id,
				"panic":         fmt.Sprint(r),
			}).Error("Event handler panicked")
		}
	}()

	if err := s.handler(evt); err != nil {
		atomic.AddUint64(&b.failures, 1)
		b.logger.WithError(err).WithFields(logrus.Fields{
			"topic":         evt.Topic,
			"subscriber_id": s.id,
		}).Warn("Event handler failed")
	}
}

// SubscriberCount returns the number of handlers registered for a topic
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// Topics lists topics with at least one handler
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		topics = append(topics, t)
	}
	return topics
}

// Failures returns how many handler invocations have failed
func (b *Bus) Failures() uint64 {
	return atomic.LoadUint64(&b.failures)
}
