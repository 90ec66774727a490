package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"

	"github.com/frostdev-ops/pma-monitor/internal/config"
)

func TestNew_TripsOnFailureRatio(t *testing.T) {
	logger, hook := test.NewNullLogger()
	cb := New("source", config.BreakerConfig{MinRequests: 3, FailureRatio: 0.6, Timeout: time.Minute}, logger)

	fail := func() (interface{}, error) { return nil, errors.New("upstream down") }

	_, _ = cb.Execute(fail)
	_, _ = cb.Execute(fail)
	assert.Equal(t, gobreaker.StateClosed, cb.State(), "below the minimum request count")

	_, _ = cb.Execute(fail)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return 1, nil })
	assert.True(t, IsOpen(err))
	assert.NotNil(t, hook.LastEntry())
}

func TestNew_StaysClosedBelowRatio(t *testing.T) {
	cb := New("source", config.BreakerConfig{MinRequests: 2, FailureRatio: 0.9}, nil)

	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("once") })
	_, _ = cb.Execute(func() (interface{}, error) { return 1, nil })
	_, _ = cb.Execute(func() (interface{}, error) { return 1, nil })

	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.False(t, IsOpen(errors.New("other")))
}
