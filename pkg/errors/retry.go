package errors

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// retryableError marks an error as worth another attempt
type retryableError struct {
	err error
}

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

// Retryable wraps err so RetryExecutor will try again
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was wrapped with Retryable
func IsRetryable(err error) bool {
	var r *retryableError
	return stderrors.As(err, &r)
}

// RetryPolicy defines retry behavior for operations
type RetryPolicy struct {
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay  time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	Jitter        bool          `mapstructure:"jitter" yaml:"jitter"`
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// ShouldRetry determines if an error should be retried
func (rp *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= rp.MaxAttempts {
		return false
	}
	return IsRetryable(err)
}

// GetDelay calculates the delay before the next retry attempt
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return rp.InitialDelay
	}

	delay := float64(rp.InitialDelay) * math.Pow(rp.BackoffFactor, float64(attempt-1))
	if rp.Jitter {
		// up to 25% jitter
		delay += delay * 0.25 * rand.Float64()
	}
	if rp.MaxDelay > 0 && time.Duration(delay) > rp.MaxDelay {
		delay = float64(rp.MaxDelay)
	}

	return time.Duration(delay)
}

// RetryExecutor executes functions with retry logic
type RetryExecutor struct {
	policy *RetryPolicy
	logger *logrus.Logger
}

// NewRetryExecutor creates a new retry executor
func NewRetryExecutor(policy *RetryPolicy, logger *logrus.Logger) *RetryExecutor {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	return &RetryExecutor{
		policy: policy,
		logger: logger,
	}
}

// Execute runs fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted.
func (re *RetryExecutor) Execute(ctx context.Context, operation string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= re.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 1 && re.logger != nil {
				re.logger.WithFields(logrus.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !re.policy.ShouldRetry(err, attempt) {
			break
		}

		delay := re.policy.GetDelay(attempt)
		if re.logger != nil {
			re.logger.WithFields(logrus.Fields{
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
				"error":     err.Error(),
			}).Debug("Retrying operation after delay")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
