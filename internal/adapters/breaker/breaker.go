package breaker

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/frostdev-ops/pma-monitor/internal/config"
)

// New builds a circuit breaker that trips once MinRequests calls have been
// seen in the interval and the failure ratio reaches FailureRatio.
func New(name string, cfg config.BreakerConfig, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 3
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.6
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger == nil {
				return
			}
			entry := logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			if to == gobreaker.StateOpen {
				entry.Warn("Circuit breaker opened")
			} else {
				entry.Info("Circuit breaker state changed")
			}
		},
	})
}

// IsOpen reports whether err was returned because the breaker rejected the call
func IsOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
