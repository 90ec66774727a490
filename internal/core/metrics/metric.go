package metrics

import "time"

// Category groups metrics by what they describe
type Category string

const (
	CategorySystem      Category = "system"
	CategoryBusiness    Category = "business"
	CategoryUser        Category = "user"
	CategoryPerformance Category = "performance"
)

// Kind describes how a metric value behaves over time
type Kind string

const (
	KindGauge     Kind = "gauge"
	KindCounter   Kind = "counter"
	KindHistogram Kind = "histogram"
	KindRate      Kind = "rate"
	KindBoolean   Kind = "boolean"
)

// Direction says which side of a threshold is the bad side
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// TrendDirection is the sign of a metric's recent velocity
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// Threshold holds the warning and critical boundaries of a metric
type Threshold struct {
	Warning   float64   `json:"warning" yaml:"warning"`
	Critical  float64   `json:"critical" yaml:"critical"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// Trend is computed from the three most recent samples
type Trend struct {
	Direction    TrendDirection `json:"direction"`
	Velocity     float64        `json:"velocity"`
	Acceleration float64        `json:"acceleration"`
}

// Sample is one historical value
type Sample struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Metric is a named, periodically sampled operational value
type Metric struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Unit          string     `json:"unit,omitempty"`
	Category      Category   `json:"category"`
	Kind          Kind       `json:"kind"`
	Value         float64    `json:"value"`
	PreviousValue float64    `json:"previous_value"`
	Threshold     *Threshold `json:"threshold,omitempty"`
	Trend         Trend      `json:"trend"`
	History       []Sample   `json:"history"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// clone returns a deep copy safe to hand outside the registry lock
func (m *Metric) clone() Metric {
	out := *m
	if m.Threshold != nil {
		th := *m.Threshold
		out.Threshold = &th
	}
	out.History = make([]Sample, len(m.History))
	copy(out.History, m.History)
	return out
}
