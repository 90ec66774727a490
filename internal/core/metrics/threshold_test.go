package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_Above(t *testing.T) {
	th := &Threshold{Warning: 70, Critical: 90, Direction: DirectionAbove}

	tests := []struct {
		value    float64
		breached bool
		level    Level
	}{
		{69, false, ""},
		{70, true, LevelWarning},
		{89, true, LevelWarning},
		{90, true, LevelCritical},
		{95, true, LevelCritical},
	}

	for _, tt := range tests {
		b, ok := Evaluate(Metric{ID: "cpu_usage", Value: tt.value, Threshold: th})
		assert.Equal(t, tt.breached, ok, "value %v", tt.value)
		assert.Equal(t, tt.level, b.Level, "value %v", tt.value)
	}
}

func TestEvaluate_Below(t *testing.T) {
	th := &Threshold{Warning: 60, Critical: 40, Direction: DirectionBelow}

	b, ok := Evaluate(Metric{Value: 61, Threshold: th})
	assert.False(t, ok)

	b, ok = Evaluate(Metric{Value: 60, Threshold: th})
	assert.True(t, ok)
	assert.Equal(t, LevelWarning, b.Level)
	assert.Equal(t, 60.0, b.Threshold)

	b, ok = Evaluate(Metric{Value: 12, Threshold: th})
	assert.True(t, ok)
	assert.Equal(t, LevelCritical, b.Level)
	assert.Equal(t, DirectionBelow, b.Direction)
}

func TestEvaluate_IssueVelocity(t *testing.T) {
	m := Metric{
		ID:        "issue_velocity",
		Value:     9.2,
		Threshold: &Threshold{Warning: 5.0, Critical: 8.0, Direction: DirectionAbove},
		Trend:     Trend{Direction: TrendIncreasing},
	}

	b, ok := Evaluate(m)
	assert.True(t, ok)
	assert.Equal(t, LevelCritical, b.Level)
	assert.Equal(t, 8.0, b.Threshold)
	assert.Equal(t, TrendIncreasing, b.Trend)
}

func TestEvaluate_NoThreshold(t *testing.T) {
	_, ok := Evaluate(Metric{ID: "active_users", Value: 1e9})
	assert.False(t, ok)
}
