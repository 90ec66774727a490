package automation

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/frostdev-ops/pma-monitor/pkg/errors"
)

func newTestEngine(t *testing.T, rules ...Rule) *Engine {
	t.Helper()
	logger, _ := test.NewNullLogger()
	engine := NewEngine(logger)
	for _, r := range rules {
		require.NoError(t, engine.AddRule(r))
	}
	return engine
}

func notifyAction() ActionSpec {
	return ActionSpec{Type: ActionNotification, AutomationLevel: LevelFullyAutomated}
}

func anomalyRule(id string, priority int, conditions ...Condition) Rule {
	return Rule{
		ID:         id,
		Name:       id,
		Priority:   priority,
		Enabled:    true,
		Conditions: conditions,
		Actions:    []ActionSpec{notifyAction()},
	}
}

var (
	condSevere = Condition{Type: KindAnomaly, Field: FieldSeverity, Operator: OperatorIn, Value: []interface{}{"high", "critical"}}
	condDeep   = Condition{Type: KindAnomaly, Field: FieldDeviation, Operator: OperatorGreaterThan, Value: 3.0}
)

func severeAnomaly(deviation float64) AnomalyEvent {
	return AnomalyEvent{
		Upstream:  Upstream{EntityType: "service", EntityID: "api", Severity: "critical", Score: 0.9},
		Deviation: deviation,
	}
}

func TestEngine_RuleFiringIsConjunctive(t *testing.T) {
	engine := newTestEngine(t, anomalyRule("both", 5, condSevere, condDeep))

	assert.Empty(t, engine.Evaluate(severeAnomaly(1.0)), "only A holds")

	matches := engine.Evaluate(severeAnomaly(4.0))
	require.Len(t, matches, 1)
	assert.Equal(t, "both", matches[0].Rule.ID)
	assert.Len(t, matches[0].Conditions, 2)
}

func TestEngine_NoMatchingTypeNeverFires(t *testing.T) {
	predictionOnly := anomalyRule("prediction-only", 5, Condition{
		Type: KindPrediction, Field: FieldOutcome, Operator: OperatorEqual, Value: "delayed",
	})
	engine := newTestEngine(t, predictionOnly)

	assert.Empty(t, engine.Evaluate(severeAnomaly(10)))
}

func TestEngine_OnlyTypeMatchingConditionsApply(t *testing.T) {
	mixed := anomalyRule("mixed", 5, condSevere, Condition{
		Type: KindPrediction, Field: FieldOutcome, Operator: OperatorEqual, Value: "never",
	})
	engine := newTestEngine(t, mixed)

	matches := engine.Evaluate(severeAnomaly(0))
	require.Len(t, matches, 1)
	assert.Len(t, matches[0].Conditions, 1)
}

func TestEngine_PriorityOrderIsStable(t *testing.T) {
	engine := newTestEngine(t,
		anomalyRule("low", 2, condSevere),
		anomalyRule("high-a", 9, condSevere),
		anomalyRule("mid", 5, condSevere),
		anomalyRule("high-b", 9, condSevere),
	)

	matches := engine.Evaluate(severeAnomaly(0))
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.Rule.ID
	}
	assert.Equal(t, []string{"high-a", "high-b", "mid", "low"}, ids)
}

func TestEngine_DisabledRulesDoNotFire(t *testing.T) {
	engine := newTestEngine(t, anomalyRule("r", 5, condSevere))
	require.NoError(t, engine.SetEnabled("r", false))

	assert.Empty(t, engine.Evaluate(severeAnomaly(0)))
	assert.ErrorIs(t, engine.SetEnabled("missing", true), apperrors.ErrNotFound)
}

func TestEngine_AddRuleValidates(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.AddRule(Rule{ID: "bad", Name: "bad", Priority: 11})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	require.NoError(t, engine.AddRule(anomalyRule("dup", 5, condSevere)))
	assert.ErrorIs(t, engine.AddRule(anomalyRule("dup", 5, condSevere)), apperrors.ErrConflict)
}

func TestEngine_RulesAreSnapshots(t *testing.T) {
	engine := newTestEngine(t, anomalyRule("r", 5, condSevere))

	rules := engine.Rules()
	rules[0].Actions[0].Type = ActionEscalation
	rules[0].Enabled = false

	r, _ := engine.Rule("r")
	assert.Equal(t, ActionNotification, r.Actions[0].Type)
	assert.True(t, r.Enabled)
}
