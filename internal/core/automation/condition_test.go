package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		op       Operator
		actual   interface{}
		expected interface{}
		want     bool
	}{
		{"gt float", OperatorGreaterThan, 9.2, 8.0, true},
		{"gt int vs float", OperatorGreaterThan, 3, 2.5, true},
		{"gt equal", OperatorGreaterThan, 8.0, 8, false},
		{"gte equal", OperatorGreaterOrEqual, 8.0, 8, true},
		{"lt", OperatorLessThan, 1.0, 2.0, true},
		{"lte", OperatorLessOrEqual, 2.0, 2.0, true},
		{"gt string fails closed", OperatorGreaterThan, "9", 8.0, false},
		{"eq string", OperatorEqual, "delayed", "delayed", true},
		{"eq mixed numeric", OperatorEqual, 2, 2.0, true},
		{"eq string vs number", OperatorEqual, "2", 2, false},
		{"eq bool", OperatorEqual, true, true, true},
		{"contains substring", OperatorContains, "database timeout", "timeout", true},
		{"contains list", OperatorContains, []string{"a", "b"}, "b", true},
		{"contains missing", OperatorContains, []string{"a"}, "z", false},
		{"in list", OperatorIn, "critical", []interface{}{"high", "critical"}, true},
		{"in string slice", OperatorIn, "low", []string{"high", "critical"}, false},
		{"in non list", OperatorIn, "high", "high", false},
		{"unknown operator", Operator("matches"), "a", "a", false},
		{"nil actual", OperatorEqual, nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.op, tt.actual, tt.expected))
		})
	}
}

func TestCondition_Evaluate(t *testing.T) {
	anomaly := AnomalyEvent{Upstream: Upstream{EntityID: "api", Severity: "critical", Score: 0.6}}

	c := Condition{Type: KindAnomaly, Field: FieldSeverity, Operator: OperatorEqual, Value: "critical"}
	assert.True(t, c.Evaluate(anomaly))

	c.MinConfidence = 0.9
	assert.False(t, c.Evaluate(anomaly), "below minimum confidence")

	wrongKind := Condition{Type: KindPrediction, Field: FieldSeverity, Operator: OperatorEqual, Value: "critical"}
	assert.False(t, wrongKind.Evaluate(anomaly))

	missing := Condition{Type: KindAnomaly, Field: FieldOutcome, Operator: OperatorEqual, Value: "x"}
	assert.False(t, missing.Evaluate(anomaly), "field not carried by anomalies")
}

func TestCondition_Validate(t *testing.T) {
	require.NoError(t, Condition{Type: KindThreshold, Field: FieldValue, Operator: OperatorGreaterThan, Value: 1}.Validate())

	assert.Error(t, Condition{Type: "weather", Field: FieldValue, Operator: OperatorGreaterThan}.Validate())
	assert.Error(t, Condition{Type: KindTime, Field: FieldSeverity, Operator: OperatorEqual}.Validate())
	assert.Error(t, Condition{Type: KindAnomaly, Field: FieldSeverity, Operator: "like"}.Validate())
	assert.Error(t, Condition{Type: KindAnomaly, Field: FieldSeverity, Operator: OperatorIn, Value: "high"}.Validate())
}

func TestEventFields(t *testing.T) {
	p := PredictionEvent{
		Upstream:    Upstream{EntityType: "initiative", EntityID: "init-7", Severity: "high", Score: 0.82},
		Outcome:     "delayed",
		Probability: 0.75,
	}

	v, ok := p.Field(FieldOutcome)
	require.True(t, ok)
	assert.Equal(t, "delayed", v)

	v, ok = p.Field(FieldEntityID)
	require.True(t, ok)
	assert.Equal(t, "init-7", v)

	_, ok = p.Field(FieldDeviation)
	assert.False(t, ok)

	for _, f := range FieldsFor(KindPrediction) {
		_, ok := p.Field(f)
		assert.True(t, ok, "prediction should expose %s", f)
	}
	for _, f := range FieldsFor(KindThreshold) {
		_, ok := ThresholdEvent{}.Field(f)
		assert.True(t, ok, "threshold should expose %s", f)
	}
}
