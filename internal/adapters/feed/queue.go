// Package feed buffers prediction and anomaly events produced upstream until
// the monitoring loop collects them.
package feed

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-monitor/internal/core/automation"
)

// Feed returns the events produced since the previous call
type Feed interface {
	Fetch(ctx context.Context) ([]automation.Event, error)
}

// Queue is a bounded in-memory Feed. When full, the oldest events are dropped.
type Queue struct {
	logger   *logrus.Logger
	capacity int

	mu      sync.Mutex
	items   []automation.Event
	dropped uint64
}

// NewQueue creates a queue holding at most capacity events
func NewQueue(capacity int, logger *logrus.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{logger: logger, capacity: capacity}
}

// Push appends events, evicting the oldest beyond capacity
func (q *Queue) Push(events ...automation.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range events {
		if e == nil {
			continue
		}
		q.items = append(q.items, e)
	}

	if over := len(q.items) - q.capacity; over > 0 {
		q.items = append([]automation.Event(nil), q.items[over:]...)
		q.dropped += uint64(over)
		q.logger.WithFields(logrus.Fields{
			"dropped":  over,
			"capacity": q.capacity,
		}).Warn("Feed queue full, dropped oldest events")
	}
}

// Fetch implements Feed by draining the queue
func (q *Queue) Fetch(ctx context.Context) ([]automation.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out, nil
}

// Len returns the number of buffered events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many events were evicted
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
