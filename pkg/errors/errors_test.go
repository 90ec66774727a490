package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, GetStatusCode(ErrNotFound))
	assert.Equal(t, http.StatusConflict, GetStatusCode(fmt.Errorf("wrapped: %w", ErrConflict)))
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(stderrors.New("plain")))
}

func TestDetailsStillMatchSentinel(t *testing.T) {
	err := Detailf(ErrNotFound, "alert %s", "a-1")
	assert.True(t, Is(err, ErrNotFound))
	assert.False(t, Is(err, ErrConflict))
	assert.Contains(t, err.Error(), "alert a-1")
}

func TestRetryExecutor_RetriesOnlyRetryableErrors(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	exec := NewRetryExecutor(policy, nil)

	calls := 0
	err := exec.Execute(context.Background(), "flaky", func() error {
		calls++
		if calls < 3 {
			return Retryable(stderrors.New("temporary"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = exec.Execute(context.Background(), "fatal", func() error {
		calls++
		return stderrors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_GetDelayCapped(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 3 * time.Second, BackoffFactor: 2}
	assert.Equal(t, time.Second, policy.GetDelay(1))
	assert.Equal(t, 2*time.Second, policy.GetDelay(2))
	assert.Equal(t, 3*time.Second, policy.GetDelay(4))
}
