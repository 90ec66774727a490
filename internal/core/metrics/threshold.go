package metrics

// Level is the severity of a threshold breach
type Level string

const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Breach describes a metric value outside its thresholds
type Breach struct {
	MetricID  string         `json:"metric_id"`
	Level     Level          `json:"level"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Direction Direction      `json:"direction"`
	Trend     TrendDirection `json:"trend"`
}

// Evaluate compares a metric's current value against its thresholds.
// Critical is checked before warning; below-direction thresholds invert the
// comparison. Metrics without a threshold never breach.
func Evaluate(m Metric) (Breach, bool) {
	if m.Threshold == nil {
		return Breach{}, false
	}
	th := m.Threshold

	crossed := func(limit float64) bool {
		if th.Direction == DirectionBelow {
			return m.Value <= limit
		}
		return m.Value >= limit
	}

	breach := Breach{
		MetricID:  m.ID,
		Value:     m.Value,
		Direction: th.Direction,
		Trend:     m.Trend.Direction,
	}
	if breach.Direction == "" {
		breach.Direction = DirectionAbove
	}

	switch {
	case crossed(th.Critical):
		breach.Level = LevelCritical
		breach.Threshold = th.Critical
	case crossed(th.Warning):
		breach.Level = LevelWarning
		breach.Threshold = th.Warning
	default:
		return Breach{}, false
	}
	return breach, true
}
