package automation

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	attempted, delivered int
	channels             []string
	severity             string
}

func (f *fakeNotifier) Broadcast(_ context.Context, channelIDs []string, severity, _, _ string) (int, int) {
	f.channels = channelIDs
	f.severity = severity
	return f.attempted, f.delivered
}

type fakeStarter struct {
	workflowID string
}

func (f *fakeStarter) Start(_ context.Context, workflowID string, _ Event, _ map[string]interface{}) (string, error) {
	f.workflowID = workflowID
	return "wf-instance", nil
}

func newTestExecutor() *Executor {
	logger, _ := test.NewNullLogger()
	return NewExecutor(time.Second, nil, logger)
}

func run(e *Executor, spec ActionSpec, event Event) ActionResult {
	return e.Execute(context.Background(), NewAction(spec).(Runnable), event)
}

func TestExecutor_Notification(t *testing.T) {
	e := newTestExecutor()
	n := &fakeNotifier{attempted: 2, delivered: 1}
	e.SetNotifier(n)

	res := run(e, ActionSpec{
		Type:            ActionNotification,
		AutomationLevel: LevelFullyAutomated,
		Parameters:      map[string]interface{}{"channels": []interface{}{"ops"}, "severity": "critical"},
	}, severeAnomaly(0))

	assert.True(t, res.Success)
	assert.Equal(t, []string{"ops"}, n.channels)
	assert.Equal(t, "critical", n.severity)
	assert.InDelta(t, 0.2, res.Impact, 1e-9)

	n.delivered = 0
	res = run(e, ActionSpec{Type: ActionNotification, AutomationLevel: LevelFullyAutomated}, severeAnomaly(0))
	assert.False(t, res.Success)
	assert.Equal(t, 0.0, res.Impact)
}

func TestExecutor_ImpactIsCappedByMaxImpact(t *testing.T) {
	e := newTestExecutor()

	res := run(e, ActionSpec{
		Type:            ActionResourceAllocation,
		AutomationLevel: LevelSemiAutomated,
		MaxImpact:       0.25,
	}, severeAnomaly(0))

	require.True(t, res.Success)
	assert.InDelta(t, 0.25, res.Impact, 1e-9)
}

func TestExecutor_WorkflowTrigger(t *testing.T) {
	e := newTestExecutor()

	res := run(e, ActionSpec{
		Type:            ActionWorkflowTrigger,
		AutomationLevel: LevelFullyAutomated,
		Parameters:      map[string]interface{}{"workflow_id": "incident"},
	}, severeAnomaly(0))
	assert.False(t, res.Success, "no workflow engine wired")

	starter := &fakeStarter{}
	e.SetWorkflowStarter(starter)
	res = run(e, ActionSpec{
		Type:            ActionWorkflowTrigger,
		AutomationLevel: LevelFullyAutomated,
		Parameters:      map[string]interface{}{"workflow_id": "incident"},
	}, severeAnomaly(0))

	assert.True(t, res.Success)
	assert.Equal(t, "incident", starter.workflowID)
	assert.Equal(t, "wf-instance", res.Reference)

	res = run(e, ActionSpec{Type: ActionWorkflowTrigger, AutomationLevel: LevelFullyAutomated}, severeAnomaly(0))
	assert.False(t, res.Success, "missing workflow_id")
}

func TestExecutor_PreventiveMeasureUsesRecommendation(t *testing.T) {
	e := newTestExecutor()

	event := PredictionEvent{Upstream: Upstream{EntityID: "init-1", Recommendations: []string{"add reviewer"}}}
	res := run(e, ActionSpec{Type: ActionPreventiveMeasure, AutomationLevel: LevelFullyAutomated}, event)

	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "add reviewer")

	res = run(e, ActionSpec{Type: ActionPreventiveMeasure, AutomationLevel: LevelFullyAutomated}, PredictionEvent{})
	assert.False(t, res.Success)
}

func TestExecutor_RecoversFromPanics(t *testing.T) {
	e := newTestExecutor()
	e.RegisterHandler(ActionEscalation, HandlerFunc(func(context.Context, ActionSpec, Event) (HandlerResult, error) {
		panic("boom")
	}))

	res := run(e, ActionSpec{Type: ActionEscalation, AutomationLevel: LevelFullyAutomated}, severeAnomaly(0))
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "panicked")
}
