package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/frostdev-ops/pma-monitor/internal/core/automation"
)

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// node is a compiled step with resolved edges
type node struct {
	step      Step
	timeout   time.Duration
	action    automation.ActionSpec
	approvers []string
	success   *node
	failure   *node
}

// graph is the validated step graph of a workflow
type graph struct {
	start *node
	nodes map[string]*node
}

// compile validates the workflow definition and resolves step edges. Step ids
// must be unique, every edge must point at a declared step, every step must be
// reachable from the entry step and the graph must be acyclic.
func compile(w Workflow) (*graph, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("workflow id is required")
	}
	if w.Name == "" {
		return nil, fmt.Errorf("workflow %s: name is required", w.ID)
	}
	if err := validateTrigger(w.Trigger); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", w.ID, err)
	}
	if len(w.Steps) == 0 {
		return nil, fmt.Errorf("workflow %s: at least one step is required", w.ID)
	}

	g := &graph{nodes: make(map[string]*node, len(w.Steps))}
	for _, s := range w.Steps {
		if s.ID == "" {
			return nil, fmt.Errorf("workflow %s: step id is required", w.ID)
		}
		if _, dup := g.nodes[s.ID]; dup {
			return nil, fmt.Errorf("workflow %s: duplicate step id %s", w.ID, s.ID)
		}
		n, err := compileStep(s)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: step %s: %w", w.ID, s.ID, err)
		}
		g.nodes[s.ID] = n
	}
	g.start = g.nodes[w.Steps[0].ID]

	for _, s := range w.Steps {
		n := g.nodes[s.ID]
		if s.OnSuccess != "" {
			next, ok := g.nodes[s.OnSuccess]
			if !ok {
				return nil, fmt.Errorf("workflow %s: step %s: on_success references unknown step %s", w.ID, s.ID, s.OnSuccess)
			}
			n.success = next
		}
		if s.OnFailure != "" {
			next, ok := g.nodes[s.OnFailure]
			if !ok {
				return nil, fmt.Errorf("workflow %s: step %s: on_failure references unknown step %s", w.ID, s.ID, s.OnFailure)
			}
			n.failure = next
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", w.ID, err)
	}
	if unreachable := g.unreachable(); len(unreachable) > 0 {
		return nil, fmt.Errorf("workflow %s: steps not reachable from %s: %v", w.ID, g.start.step.ID, unreachable)
	}
	return g, nil
}

func validateTrigger(t Trigger) error {
	switch t.Type {
	case TriggerPrediction, TriggerAnomaly, TriggerThreshold, TriggerManual, TriggerEvent:
	case TriggerSchedule:
		if t.Schedule == "" {
			return fmt.Errorf("schedule trigger requires a schedule expression")
		}
		if _, err := scheduleParser.Parse(t.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", t.Schedule, err)
		}
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	for i, c := range t.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("trigger condition %d: %w", i, err)
		}
	}
	return nil
}

func compileStep(s Step) (*node, error) {
	n := &node{step: s}

	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid timeout %q", s.Timeout)
		}
		n.timeout = d
	}

	switch s.Type {
	case StepCondition:
		if stringParam(s.Parameters, "field") == "" {
			return nil, fmt.Errorf("condition step requires a field parameter")
		}
		if !automation.ValidOperator(automation.Operator(stringParam(s.Parameters, "operator"))) {
			return nil, fmt.Errorf("condition step has unknown operator %q", stringParam(s.Parameters, "operator"))
		}
	case StepAction:
		if s.Action == nil {
			return nil, fmt.Errorf("action step requires an action")
		}
		if err := s.Action.Validate(); err != nil {
			return nil, err
		}
		n.action = *s.Action
		n.approvers = stringsParam(s.Parameters, "approvers")
	case StepApproval:
		n.approvers = stringsParam(s.Parameters, "approvers")
	case StepNotification:
		if stringParam(s.Parameters, "title") == "" && stringParam(s.Parameters, "message") == "" {
			return nil, fmt.Errorf("notification step requires a title or message")
		}
	case StepDelay:
		d, err := delayDuration(s, n.timeout)
		if err != nil {
			return nil, err
		}
		n.timeout = d
	default:
		return nil, fmt.Errorf("unknown step type %q", s.Type)
	}
	return n, nil
}

func delayDuration(s Step, fallback time.Duration) (time.Duration, error) {
	raw := stringParam(s.Parameters, "duration")
	if raw == "" {
		if fallback <= 0 {
			return 0, fmt.Errorf("delay step requires a duration")
		}
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid delay duration %q", raw)
	}
	return d, nil
}

func (g *graph) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*node]int, len(g.nodes))

	var visit func(n *node) error
	visit = func(n *node) error {
		switch state[n] {
		case visiting:
			return fmt.Errorf("cycle through step %s", n.step.ID)
		case done:
			return nil
		}
		state[n] = visiting
		for _, next := range []*node{n.success, n.failure} {
			if next == nil {
				continue
			}
			if err := visit(next); err != nil {
				return err
			}
		}
		state[n] = done
		return nil
	}

	for _, n := range g.nodes {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}

func (g *graph) unreachable() []string {
	seen := map[*node]bool{}
	stack := []*node{g.start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil || seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, n.success, n.failure)
	}

	var out []string
	for id, n := range g.nodes {
		if !seen[n] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
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
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
