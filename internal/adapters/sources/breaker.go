package sources

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/frostdev-ops/pma-monitor/internal/adapters/breaker"
	"github.com/frostdev-ops/pma-monitor/internal/config"
)

// BreakerProvider stops calling a failing provider until its breaker half-opens.
// Unsupported metrics do not count as failures.
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps p
func WithBreaker(name string, p Provider, cfg config.BreakerConfig, logger *logrus.Logger) *BreakerProvider {
	return &BreakerProvider{next: p, cb: breaker.New("source:"+name, cfg, logger)}
}

// Value implements Provider
func (b *BreakerProvider) Value(ctx context.Context, metricID string) (float64, error) {
	var unsupported error
	out, err := b.cb.Execute(func() (interface{}, error) {
		v, err := b.next.Value(ctx, metricID)
		if errors.Is(err, ErrUnsupported) {
			unsupported = err
			return 0.0, nil
		}
		return v, err
	})
	if unsupported != nil {
		return 0, unsupported
	}
	if err != nil {
		return 0, err
	}
	return out.(float64), nil
}

// Metrics implements Lister when the wrapped provider does
func (b *BreakerProvider) Metrics() []string {
	if l, ok := b.next.(Lister); ok {
		return l.Metrics()
	}
	return nil
}

// State exposes the breaker state for status pages
func (b *BreakerProvider) State() string {
	return b.cb.State().String()
}
