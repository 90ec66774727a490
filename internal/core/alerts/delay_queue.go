package alerts

import (
	"sync"
	"time"
)

// DelayQueue runs one deferred task per key. Scheduling a key again replaces
// the pending task, and Cancel drops it before it fires.
type DelayQueue struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewDelayQueue() *DelayQueue {
	return &DelayQueue{timers: make(map[string]*time.Timer)}
}

// Schedule runs fn after delay unless the key is cancelled first
func (q *DelayQueue) Schedule(key string, delay time.Duration, fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false
	}
	if existing, ok := q.timers[key]; ok {
		existing.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		current, ok := q.timers[key]
		if !ok || current != timer {
			q.mu.Unlock()
			return
		}
		delete(q.timers, key)
		q.mu.Unlock()

		fn()
	})
	q.timers[key] = timer
	return true
}

// Cancel drops the pending task for key
func (q *DelayQueue) Cancel(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	timer, ok := q.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(q.timers, key)
	return ok
}

// Pending reports whether a task is scheduled for key
func (q *DelayQueue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.timers[key]
	return ok
}

// Len returns the number of scheduled tasks
func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Stop cancels every pending task and rejects new ones
func (q *DelayQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, timer := range q.timers {
		timer.Stop()
		delete(q.timers, key)
	}
	q.stopped = true
}
