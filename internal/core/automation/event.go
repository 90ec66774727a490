package automation

import (
	"fmt"
	"time"
)

// EventKind identifies the shape of an event and which conditions apply to it
type EventKind string

const (
	KindPrediction  EventKind = "prediction"
	KindAnomaly     EventKind = "anomaly"
	KindThreshold   EventKind = "threshold"
	KindCorrelation EventKind = "correlation"
	KindTime        EventKind = "time"
	KindManual      EventKind = "manual"
)

// Field names a value that a condition can read from an event
type Field string

const (
	// Fields shared by every upstream event
	FieldEntityType      Field = "entity_type"
	FieldEntityID        Field = "entity_id"
	FieldSeverity        Field = "severity"
	FieldConfidence      Field = "confidence"
	FieldDescription     Field = "description"
	FieldRecommendations Field = "recommendations"

	// Prediction fields
	FieldOutcome     Field = "prediction.outcome"
	FieldProbability Field = "prediction.probability"
	FieldHorizon     Field = "prediction.horizon_hours"

	// Anomaly fields
	FieldAnomalyType Field = "anomaly.type"
	FieldDeviation   Field = "anomaly.deviation"

	// Anomaly and threshold fields
	FieldMetric Field = "metric"
	FieldValue  Field = "value"

	// Threshold fields
	FieldThreshold Field = "threshold"
	FieldLevel     Field = "level"
	FieldTrend     Field = "trend"

	// Correlation fields
	FieldEntities    Field = "correlation.entities"
	FieldCoefficient Field = "correlation.coefficient"

	// Time fields
	FieldHour    Field = "time.hour"
	FieldWeekday Field = "time.weekday"
)

var commonFields = []Field{
	FieldEntityType, FieldEntityID, FieldSeverity, FieldConfidence, FieldDescription, FieldRecommendations,
}

var fieldsByKind = map[EventKind][]Field{
	KindPrediction:  append(append([]Field{}, commonFields...), FieldOutcome, FieldProbability, FieldHorizon),
	KindAnomaly:     append(append([]Field{}, commonFields...), FieldAnomalyType, FieldDeviation, FieldMetric, FieldValue),
	KindThreshold:   append(append([]Field{}, commonFields...), FieldMetric, FieldValue, FieldThreshold, FieldLevel, FieldTrend),
	KindCorrelation: append(append([]Field{}, commonFields...), FieldEntities, FieldCoefficient),
	KindTime:        {FieldHour, FieldWeekday},
	KindManual:      {FieldHour, FieldWeekday},
}

// FieldsFor lists the fields an event kind exposes
func FieldsFor(kind EventKind) []Field {
	return append([]Field(nil), fieldsByKind[kind]...)
}

// ValidField reports whether kind exposes field
func ValidField(kind EventKind, field Field) bool {
	for _, f := range fieldsByKind[kind] {
		if f == field {
			return true
		}
	}
	return false
}

// ValidKind reports whether kind is a known event kind
func ValidKind(kind EventKind) bool {
	_, ok := fieldsByKind[kind]
	return ok
}

// Event is a typed input to rule evaluation
type Event interface {
	Kind() EventKind
	// Field resolves a field. Fields the event does not carry return false.
	Field(Field) (interface{}, bool)
	// Subject returns the entity type and id the event is about
	Subject() (string, string)
	// Confidence returns the producer's confidence in [0,1]
	Confidence() float64
	OccurredAt() time.Time
}

// Upstream carries the fields every prediction/anomaly feed entry shares
type Upstream struct {
	EntityType      string    `json:"entity_type" yaml:"entity_type"`
	EntityID        string    `json:"entity_id" yaml:"entity_id"`
	Severity        string    `json:"severity" yaml:"severity"`
	Score           float64   `json:"confidence" yaml:"confidence"`
	Description     string    `json:"description" yaml:"description"`
	Recommendations []string  `json:"recommendations,omitempty" yaml:"recommendations"`
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
}

func (u Upstream) Subject() (string, string) { return u.EntityType, u.EntityID }
func (u Upstream) Confidence() float64       { return u.Score }

func (u Upstream) OccurredAt() time.Time {
	if u.Timestamp.IsZero() {
		return time.Now()
	}
	return u.Timestamp
}

func (u Upstream) field(f Field) (interface{}, bool) {
	switch f {
	case FieldEntityType:
		return u.EntityType, true
	case FieldEntityID:
		return u.EntityID, true
	case FieldSeverity:
		return u.Severity, true
	case FieldConfidence:
		return u.Score, true
	case FieldDescription:
		return u.Description, true
	case FieldRecommendations:
		return append([]string(nil), u.Recommendations...), true
	}
	return nil, false
}

// PredictionEvent is a forecast produced upstream
type PredictionEvent struct {
	Upstream
	Outcome      string  `json:"outcome" yaml:"outcome"`
	Probability  float64 `json:"probability" yaml:"probability"`
	HorizonHours float64 `json:"horizon_hours" yaml:"horizon_hours"`
}

func (PredictionEvent) Kind() EventKind { return KindPrediction }

func (e PredictionEvent) Field(f Field) (interface{}, bool) {
	switch f {
	case FieldOutcome:
		return e.Outcome, true
	case FieldProbability:
		return e.Probability, true
	case FieldHorizon:
		return e.HorizonHours, true
	}
	return e.Upstream.field(f)
}

// AnomalyEvent is a deviation detected upstream
type AnomalyEvent struct {
	Upstream
	AnomalyType string  `json:"anomaly_type" yaml:"anomaly_type"`
	Metric      string  `json:"metric,omitempty" yaml:"metric"`
	Value       float64 `json:"value" yaml:"value"`
	Deviation   float64 `json:"deviation" yaml:"deviation"`
}

func (AnomalyEvent) Kind() EventKind { return KindAnomaly }

func (e AnomalyEvent) Field(f Field) (interface{}, bool) {
	switch f {
	case FieldAnomalyType:
		return e.AnomalyType, true
	case FieldDeviation:
		return e.Deviation, true
	case FieldMetric:
		return e.Metric, true
	case FieldValue:
		return e.Value, true
	}
	return e.Upstream.field(f)
}

// ThresholdEvent is a metric crossing one of its thresholds
type ThresholdEvent struct {
	Upstream
	Metric    string  `json:"metric" yaml:"metric"`
	Value     float64 `json:"value" yaml:"value"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Level     string  `json:"level" yaml:"level"`
	Trend     string  `json:"trend" yaml:"trend"`
}

func (ThresholdEvent) Kind() EventKind { return KindThreshold }

func (e ThresholdEvent) Field(f Field) (interface{}, bool) {
	switch f {
	case FieldMetric:
		return e.Metric, true
	case FieldValue:
		return e.Value, true
	case FieldThreshold:
		return e.Threshold, true
	case FieldLevel:
		return e.Level, true
	case FieldTrend:
		return e.Trend, true
	}
	return e.Upstream.field(f)
}

// CorrelationEvent links several entities that moved together
type CorrelationEvent struct {
	Upstream
	Entities    []string `json:"entities" yaml:"entities"`
	Coefficient float64  `json:"coefficient" yaml:"coefficient"`
}

func (CorrelationEvent) Kind() EventKind { return KindCorrelation }

func (e CorrelationEvent) Field(f Field) (interface{}, bool) {
	switch f {
	case FieldEntities:
		return append([]string(nil), e.Entities...), true
	case FieldCoefficient:
		return e.Coefficient, true
	}
	return e.Upstream.field(f)
}

// TimeEvent is emitted by schedules
type TimeEvent struct {
	At time.Time `json:"at"`
}

func (TimeEvent) Kind() EventKind           { return KindTime }
func (TimeEvent) Subject() (string, string) { return "schedule", "" }
func (TimeEvent) Confidence() float64       { return 1 }
func (e TimeEvent) OccurredAt() time.Time   { return e.At }

func (e TimeEvent) Field(f Field) (interface{}, bool) {
	switch f {
	case FieldHour:
		return e.At.Hour(), true
	case FieldWeekday:
		return e.At.Weekday().String(), true
	}
	return nil, false
}

// ManualEvent records a run started by hand
type ManualEvent struct {
	By string    `json:"by"`
	At time.Time `json:"at"`
}

func (ManualEvent) Kind() EventKind             { return KindManual }
func (e ManualEvent) Subject() (string, string) { return "user", e.By }
func (ManualEvent) Confidence() float64         { return 1 }
func (e ManualEvent) OccurredAt() time.Time     { return e.At }

func (e ManualEvent) Field(f Field) (interface{}, bool) {
	return TimeEvent{At: e.At}.Field(f)
}

// Summary is a flat, serializable description of an event
type Summary struct {
	Kind       EventKind `json:"kind"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	Severity   string    `json:"severity,omitempty"`
	Confidence float64   `json:"confidence"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Summarize flattens an event for execution records
func Summarize(e Event) Summary {
	if e == nil {
		return Summary{}
	}
	entityType, entityID := e.Subject()
	s := Summary{
		Kind:       e.Kind(),
		EntityType: entityType,
		EntityID:   entityID,
		Confidence: e.Confidence(),
		OccurredAt: e.OccurredAt(),
	}
	if sev, ok := e.Field(FieldSeverity); ok {
		s.Severity = fmt.Sprint(sev)
	}
	return s
}
