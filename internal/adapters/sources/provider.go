// Package sources reads current metric values from the host and from the
// application database.
package sources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnsupported is returned for metrics a provider does not serve
var ErrUnsupported = errors.New("metric not served by provider")

// Provider returns the current value of a named metric
type Provider interface {
	Value(ctx context.Context, metricID string) (float64, error)
}

// Lister is implemented by providers that know which metrics they serve
type Lister interface {
	Metrics() []string
}

// Multi routes each metric to the provider registered for it
type Multi struct {
	mu       sync.RWMutex
	routes   map[string]Provider
	fallback Provider
}

// NewMulti creates an empty router. fallback may be nil.
func NewMulti(fallback Provider) *Multi {
	return &Multi{routes: make(map[string]Provider), fallback: fallback}
}

// Route sends metricIDs to p
func (m *Multi) Route(p Provider, metricIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range metricIDs {
		m.routes[id] = p
	}
}

// Add routes every metric a listing provider serves
func (m *Multi) Add(p Provider) {
	if l, ok := p.(Lister); ok {
		m.Route(p, l.Metrics()...)
	}
}

// Value implements Provider
func (m *Multi) Value(ctx context.Context, metricID string) (float64, error) {
	m.mu.RLock()
	p, ok := m.routes[metricID]
	m.mu.RUnlock()

	if !ok {
		if m.fallback == nil {
			return 0, fmt.Errorf("%s: %w", metricID, ErrUnsupported)
		}
		p = m.fallback
	}
	return p.Value(ctx, metricID)
}

// Metrics implements Lister
func (m *Multi) Metrics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.routes))
	for id := range m.routes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StaticProvider serves values set by hand
type StaticProvider struct {
	mu     sync.RWMutex
	values map[string]float64
	errs   map[string]error
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{values: make(map[string]float64), errs: make(map[string]error)}
}

// Set stores a value and clears any failure for the metric
func (p *StaticProvider) Set(metricID string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[metricID] = value
	delete(p.errs, metricID)
}

// Fail makes the metric return err until the next Set
func (p *StaticProvider) Fail(metricID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[metricID] = err
}

// Value implements Provider
func (p *StaticProvider) Value(_ context.Context, metricID string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err, ok := p.errs[metricID]; ok {
		return 0, err
	}
	v, ok := p.values[metricID]
	if !ok {
		return 0, fmt.Errorf("%s: %w", metricID, ErrUnsupported)
	}
	return v, nil
}

// Metrics implements Lister
func (p *StaticProvider) Metrics() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.values))
	for id := range p.values {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
