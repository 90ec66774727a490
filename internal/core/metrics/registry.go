package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Publisher receives metric update notifications
type Publisher interface {
	Publish(topic string, payload interface{})
}

// RegistryOptions tunes history and trend computation
type RegistryOptions struct {
	HistoryCap   int
	TrendEpsilon float64
}

// Registry owns the set of metrics and their rolling history
type Registry struct {
	logger    *logrus.Logger
	publisher Publisher
	opts      RegistryOptions
	now       func() time.Time

	mu      sync.RWMutex
	metrics map[string]*Metric
	order   []string
}

// NewRegistry creates an empty registry. publisher may be nil.
func NewRegistry(opts RegistryOptions, publisher Publisher, logger *logrus.Logger) *Registry {
	if opts.HistoryCap < 3 {
		opts.HistoryCap = 100
	}
	if opts.TrendEpsilon <= 0 {
		opts.TrendEpsilon = 0.1
	}

	return &Registry{
		logger:    logger,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
		metrics:   make(map[string]*Metric),
	}
}

// SetClock overrides the time source used for samples
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Register adds a metric. It is a no-op returning false when the id exists.
func (r *Registry) Register(m Metric) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.metrics[m.ID]; exists {
		return false
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if m.Trend.Direction == "" {
		m.Trend.Direction = TrendStable
	}

	stored := m.clone()
	if len(stored.History) > r.opts.HistoryCap {
		stored.History = stored.History[len(stored.History)-r.opts.HistoryCap:]
	}
	r.metrics[m.ID] = &stored
	r.order = append(r.order, m.ID)

	r.logger.WithFields(logrus.Fields{
		"metric":   m.ID,
		"category": m.Category,
	}).Debug("Metric registered")

	return true
}

// Update records a new value for a metric, recomputes its trend and publishes
// metric:<id>. Unknown ids are logged and ignored.
func (r *Registry) Update(id string, value float64) (Metric, bool) {
	r.mu.Lock()
	m, exists := r.metrics[id]
	if !exists {
		r.mu.Unlock()
		r.logger.WithField("metric", id).Warn("Update for unknown metric ignored")
		return Metric{}, false
	}

	now := r.now()
	m.PreviousValue = m.Value
	m.Value = value
	m.UpdatedAt = now
	m.History = append(m.History, Sample{Value: value, Timestamp: now})
	if over := len(m.History) - r.opts.HistoryCap; over > 0 {
		m.History = append(m.History[:0:0], m.History[over:]...)
	}
	m.Trend = r.computeTrend(m.History, m.Trend)

	snapshot := m.clone()
	r.mu.Unlock()

	if r.publisher != nil {
		r.publisher.Publish("metric:"+id, snapshot)
	}
	return snapshot, true
}

func (r *Registry) computeTrend(history []Sample, prev Trend) Trend {
	if len(history) < 3 {
		return Trend{Direction: TrendStable}
	}

	s := history[len(history)-3:]
	velocity := (s[2].Value - s[0].Value) / 2
	trend := Trend{
		Velocity:     velocity,
		Acceleration: velocity - prev.Velocity,
	}

	switch {
	case math.Abs(velocity) < r.opts.TrendEpsilon:
		trend.Direction = TrendStable
	case velocity > 0:
		trend.Direction = TrendIncreasing
	default:
		trend.Direction = TrendDecreasing
	}
	return trend
}

// SetThreshold replaces the threshold of a registered metric
func (r *Registry) SetThreshold(id string, threshold Threshold) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.metrics[id]
	if !exists {
		return false
	}
	m.Threshold = &threshold
	return true
}

// Get returns a snapshot of one metric
func (r *Registry) Get(id string) (Metric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.metrics[id]
	if !exists {
		return Metric{}, false
	}
	return m.clone(), true
}

// List returns snapshots of all metrics in registration order
func (r *Registry) List() []Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metric, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.metrics[id].clone())
	}
	return out
}

// IDs returns the registered metric ids, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered metrics
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.metrics)
}
