package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Publisher receives action and execution events
type Publisher interface {
	Publish(topic string, payload interface{})
}

// Notifier delivers a message to notification channels. An empty channel
// list means every enabled channel.
type Notifier interface {
	Broadcast(ctx context.Context, channelIDs []string, severity, title, body string) (attempted, delivered int)
}

// WorkflowStarter launches a workflow instance and returns its id
type WorkflowStarter interface {
	Start(ctx context.Context, workflowID string, trigger Event, vars map[string]interface{}) (string, error)
}

// HandlerResult is what an action handler reports on success
type HandlerResult struct {
	Message   string
	Impact    float64
	Reference string
}

// Handler performs one type of action
type Handler interface {
	Handle(ctx context.Context, spec ActionSpec, event Event) (HandlerResult, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, spec ActionSpec, event Event) (HandlerResult, error)

func (f HandlerFunc) Handle(ctx context.Context, spec ActionSpec, event Event) (HandlerResult, error) {
	return f(ctx, spec, event)
}

// ActionEvent is published on action:<type> after every attempt
type ActionEvent struct {
	Result ActionResult `json:"result"`
	Event  Summary      `json:"event"`
}

var defaultImpact = map[ActionType]float64{
	ActionNotification:       0.2,
	ActionEscalation:         0.4,
	ActionResourceAllocation: 0.6,
	ActionWorkflowTrigger:    0.5,
	ActionPreventiveMeasure:  0.5,
}

// Executor performs single runnable actions
type Executor struct {
	logger    *logrus.Logger
	publisher Publisher
	timeout   time.Duration

	mu        sync.RWMutex
	handlers  map[ActionType]Handler
	notifier  Notifier
	workflows WorkflowStarter
}

// NewExecutor creates an executor with the built-in handlers registered
func NewExecutor(timeout time.Duration, publisher Publisher, logger *logrus.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	e := &Executor{
		logger:    logger,
		publisher: publisher,
		timeout:   timeout,
		handlers:  make(map[ActionType]Handler),
	}

	e.handlers[ActionNotification] = HandlerFunc(e.handleNotification)
	e.handlers[ActionEscalation] = HandlerFunc(e.handleEscalation)
	e.handlers[ActionResourceAllocation] = HandlerFunc(e.handleResourceAllocation)
	e.handlers[ActionWorkflowTrigger] = HandlerFunc(e.handleWorkflowTrigger)
	e.handlers[ActionPreventiveMeasure] = HandlerFunc(e.handlePreventiveMeasure)

	return e
}

// SetNotifier wires notification and escalation actions to a router
func (e *Executor) SetNotifier(n Notifier) {
	e.mu.Lock()
	e.notifier = n
	e.mu.Unlock()
}

// SetWorkflowStarter wires workflow_trigger actions to a workflow engine
func (e *Executor) SetWorkflowStarter(w WorkflowStarter) {
	e.mu.Lock()
	e.workflows = w
	e.mu.Unlock()
}

// RegisterHandler replaces the handler for an action type
func (e *Executor) RegisterHandler(t ActionType, h Handler) {
	e.mu.Lock()
	e.handlers[t] = h
	e.mu.Unlock()
}

// Execute performs a runnable action. Failures are reported in the result.
func (e *Executor) Execute(ctx context.Context, action Runnable, event Event) ActionResult {
	spec := action.Spec()
	result := ActionResult{
		Type:            spec.Type,
		AutomationLevel: spec.AutomationLevel,
		StartedAt:       time.Now(),
	}

	e.mu.RLock()
	handler, ok := e.handlers[spec.Type]
	e.mu.RUnlock()

	if !ok {
		result.Message = fmt.Sprintf("no handler for action type %s", spec.Type)
		e.finish(&result, event)
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.invoke(ctx, handler, spec, event)
	if err != nil {
		result.Message = err.Error()
		e.logger.WithError(err).WithFields(logrus.Fields{
			"action_type":      spec.Type,
			"automation_level": spec.AutomationLevel,
		}).Warn("Action failed")
	} else {
		result.Success = true
		result.Message = out.Message
		result.Reference = out.Reference
		result.Impact = e.impact(spec, out.Impact)
	}

	e.finish(&result, event)
	return result
}

func (e *Executor) invoke(ctx context.Context, h Handler, spec ActionSpec, event Event) (out HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, spec, event)
}

func (e *Executor) finish(result *ActionResult, event Event) {
	result.Duration = time.Since(result.StartedAt)
	if e.publisher != nil {
		e.publisher.Publish("action:"+string(result.Type), ActionEvent{Result: *result, Event: Summarize(event)})
	}
}

func (e *Executor) impact(spec ActionSpec, reported float64) float64 {
	impact := reported
	if impact <= 0 {
		impact = floatParam(spec.Parameters, "impact", defaultImpact[spec.Type])
	}
	if spec.MaxImpact > 0 && impact > spec.MaxImpact {
		impact = spec.MaxImpact
	}
	if impact < 0 {
		return 0
	}
	if impact > 1 {
		return 1
	}
	return impact
}

func (e *Executor) handleNotification(ctx context.Context, spec ActionSpec, event Event) (HandlerResult, error) {
	e.mu.RLock()
	notifier := e.notifier
	e.mu.RUnlock()

	severity := stringParam(spec.Parameters, "severity", "warning")
	title := stringParam(spec.Parameters, "title", defaultTitle(event))
	body := stringParam(spec.Parameters, "message", describe(event))
	channels := stringsParam(spec.Parameters, "channels")

	if notifier == nil {
		return HandlerResult{Message: "Notification recorded: " + title}, nil
	}

	attempted, delivered := notifier.Broadcast(ctx, channels, severity, title, body)
	if attempted > 0 && delivered == 0 {
		return HandlerResult{}, fmt.Errorf("notification failed on all %d channels", attempted)
	}
	return HandlerResult{Message: fmt.Sprintf("Notification delivered to %d of %d channels", delivered, attempted)}, nil
}

func (e *Executor) handleEscalation(ctx context.Context, spec ActionSpec, event Event) (HandlerResult, error) {
	e.mu.RLock()
	notifier := e.notifier
	e.mu.RUnlock()

	level := stringParam(spec.Parameters, "level", "emergency")
	target := stringParam(spec.Parameters, "target", "on-call")
	title := fmt.Sprintf("Escalation to %s: %s", target, defaultTitle(event))

	if notifier == nil {
		return HandlerResult{Message: "Escalated to " + target}, nil
	}

	attempted, delivered := notifier.Broadcast(ctx, stringsParam(spec.Parameters, "channels"), level, title, describe(event))
	if attempted > 0 && delivered == 0 {
		return HandlerResult{}, fmt.Errorf("escalation to %s could not be delivered", target)
	}
	return HandlerResult{Message: fmt.Sprintf("Escalated to %s via %d channels", target, delivered)}, nil
}

func (e *Executor) handleResourceAllocation(_ context.Context, spec ActionSpec, event Event) (HandlerResult, error) {
	resource := stringParam(spec.Parameters, "resource", "capacity")
	amount := floatParam(spec.Parameters, "amount", 1)
	if amount <= 0 {
		return HandlerResult{}, fmt.Errorf("resource allocation amount must be positive")
	}

	entityID := subjectID(event)
	return HandlerResult{
		Message: fmt.Sprintf("Requested %.0f units of %s for %s", amount, resource, entityID),
	}, nil
}

func (e *Executor) handleWorkflowTrigger(ctx context.Context, spec ActionSpec, event Event) (HandlerResult, error) {
	workflowID := stringParam(spec.Parameters, "workflow_id", "")
	if workflowID == "" {
		return HandlerResult{}, fmt.Errorf("workflow_trigger requires a workflow_id parameter")
	}

	e.mu.RLock()
	workflows := e.workflows
	e.mu.RUnlock()
	if workflows == nil {
		return HandlerResult{}, fmt.Errorf("workflow engine unavailable")
	}

	vars, _ := spec.Parameters["variables"].(map[string]interface{})
	instanceID, err := workflows.Start(ctx, workflowID, event, vars)
	if err != nil {
		return HandlerResult{}, fmt.Errorf("failed to start workflow %s: %w", workflowID, err)
	}
	return HandlerResult{
		Message:   fmt.Sprintf("Started workflow %s", workflowID),
		Reference: instanceID,
	}, nil
}

func (e *Executor) handlePreventiveMeasure(_ context.Context, spec ActionSpec, event Event) (HandlerResult, error) {
	measure := stringParam(spec.Parameters, "measure", "")
	if measure == "" && event != nil {
		if recs, ok := event.Field(FieldRecommendations); ok {
			if list, _ := recs.([]string); len(list) > 0 {
				measure = list[0]
			}
		}
	}
	if measure == "" {
		return HandlerResult{}, fmt.Errorf("no preventive measure specified")
	}

	entityID := subjectID(event)
	return HandlerResult{Message: fmt.Sprintf("Applied preventive measure %q to %s", measure, entityID)}, nil
}

func defaultTitle(event Event) string {
	if event == nil {
		return "Automated action"
	}
	entityType, entityID := event.Subject()
	if entityID == "" {
		return fmt.Sprintf("%s event", event.Kind())
	}
	kind := string(event.Kind())
	return fmt.Sprintf("%s%s on %s %s", strings.ToUpper(kind[:1]), kind[1:], entityType, entityID)
}

func subjectID(event Event) string {
	if event == nil {
		return "system"
	}
	_, id := event.Subject()
	if id == "" {
		return string(event.Kind())
	}
	return id
}

func describe(event Event) string {
	if event == nil {
		return ""
	}
	if d, ok := event.Field(FieldDescription); ok {
		if s, _ := d.(string); s != "" {
			return s
		}
	}
	return defaultTitle(event)
}

func stringParam(params map[string]interface{}, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func floatParam(params map[string]interface{}, key string, def float64) float64 {
	if v, ok := toFloat(params[key]); ok {
		return v
	}
	return def
}

func stringsParam(params map[string]interface{}, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}
