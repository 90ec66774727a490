package automation

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "github.com/frostdev-ops/pma-monitor/pkg/errors"
)

// Match is a rule whose conditions all held for an event
type Match struct {
	Rule       Rule        `json:"rule"`
	Conditions []Condition `json:"conditions"`
}

// Engine holds the decision rules and evaluates events against them
type Engine struct {
	logger *logrus.Logger

	mu    sync.RWMutex
	rules []*Rule
	index map[string]*Rule
}

// NewEngine creates an engine with no rules
func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{
		logger: logger,
		index:  make(map[string]*Rule),
	}
}

// AddRule validates and registers a rule
func (e *Engine) AddRule(rule Rule) error {
	if result := rule.Validate(); !result.Valid {
		return apperrors.Detailf(apperrors.ErrBadRequest, "invalid rule %s: %s", rule.ID, result.Error())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.index[rule.ID]; exists {
		return apperrors.Detailf(apperrors.ErrConflict, "rule %s already exists", rule.ID)
	}

	stored := rule.clone()
	stored.History = nil
	e.rules = append(e.rules, &stored)
	e.index[stored.ID] = &stored

	e.logger.WithFields(logrus.Fields{
		"rule_id":  stored.ID,
		"priority": stored.Priority,
		"enabled":  stored.Enabled,
	}).Info("Decision rule registered")

	return nil
}

// Rule returns a snapshot of one rule
func (e *Engine) Rule(id string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.index[id]
	if !ok {
		return Rule{}, false
	}
	return r.clone(), true
}

// Rules returns snapshots of every rule in registration order
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.clone())
	}
	return out
}

// SetEnabled toggles a rule
func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.index[id]
	if !ok {
		return apperrors.Detailf(apperrors.ErrNotFound, "rule %s not found", id)
	}
	r.Enabled = enabled
	return nil
}

// Evaluate returns the enabled rules whose type-matching conditions all hold
// for the event, highest priority first. Rules with equal priority keep
// registration order. A rule with no condition of the event's kind never
// fires.
func (e *Engine) Evaluate(event Event) []Match {
	if event == nil {
		return nil
	}

	e.mu.RLock()
	candidates := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			candidates = append(candidates, r.clone())
		}
	}
	e.mu.RUnlock()

	var matches []Match
	for _, rule := range candidates {
		var applicable []Condition
		fires := true
		for _, c := range rule.Conditions {
			if !c.Applies(event) {
				continue
			}
			applicable = append(applicable, c)
			if !c.Evaluate(event) {
				fires = false
				break
			}
		}
		if fires && len(applicable) > 0 {
			matches = append(matches, Match{Rule: rule, Conditions: applicable})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Rule.Priority > matches[j].Rule.Priority
	})

	if len(matches) > 0 {
		e.logger.WithFields(logrus.Fields{
			"event_kind": event.Kind(),
			"matches":    len(matches),
		}).Debug("Decision rules matched")
	}
	return matches
}

func (e *Engine) appendHistory(ruleID string, entry HistoryEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.index[ruleID]
	if !ok {
		return fmt.Errorf("rule %s not found", ruleID)
	}
	r.History = append(r.History, entry)
	return nil
}
