package automation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads rule definitions from a YAML file. Every rule is validated
// and the first invalid rule fails the whole file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes rule definitions from YAML
func ParseRules(data []byte) ([]Rule, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	seen := make(map[string]bool, len(file.Rules))
	for i := range file.Rules {
		r := &file.Rules[i]
		if result := r.Validate(); !result.Valid {
			return nil, fmt.Errorf("rule %d (%s): %s", i, r.ID, result.Error())
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule %d: duplicate id %s", i, r.ID)
		}
		seen[r.ID] = true
	}
	return file.Rules, nil
}

// DefaultRules returns the rules registered when no rules file is configured
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "critical-anomaly-notify",
			Name:        "Notify on severe anomalies",
			Description: "Send a notification for high and critical anomalies",
			Priority:    8,
			Enabled:     true,
			Conditions: []Condition{
				{Type: KindAnomaly, Field: FieldSeverity, Operator: OperatorIn, Value: []interface{}{"high", "critical"}},
			},
			Actions: []ActionSpec{
				{
					Type:            ActionNotification,
					AutomationLevel: LevelFullyAutomated,
					MaxImpact:       0.3,
					Parameters:      map[string]interface{}{"severity": "critical"},
				},
			},
		},
		{
			ID:          "predicted-delay-escalation",
			Name:        "Escalate likely delays",
			Description: "Escalate confident predictions of a delayed initiative",
			Priority:    7,
			Enabled:     true,
			Conditions: []Condition{
				{Type: KindPrediction, Field: FieldOutcome, Operator: OperatorEqual, Value: "delayed", MinConfidence: 0.7},
				{Type: KindPrediction, Field: FieldProbability, Operator: OperatorGreaterOrEqual, Value: 0.6},
			},
			Actions: []ActionSpec{
				{
					Type:            ActionEscalation,
					AutomationLevel: LevelSemiAutomated,
					MaxImpact:       0.5,
					Parameters:      map[string]interface{}{"target": "project-leads"},
				},
				{
					Type:            ActionPreventiveMeasure,
					AutomationLevel: LevelFullyAutomated,
					MaxImpact:       0.4,
				},
			},
		},
		{
			ID:          "sustained-load-capacity",
			Name:        "Request capacity for sustained load",
			Description: "Ask for more capacity when CPU crosses critical while rising",
			Priority:    6,
			Enabled:     true,
			Conditions: []Condition{
				{Type: KindThreshold, Field: FieldMetric, Operator: OperatorIn, Value: []interface{}{"cpu_usage", "memory_usage"}},
				{Type: KindThreshold, Field: FieldLevel, Operator: OperatorEqual, Value: "critical"},
				{Type: KindThreshold, Field: FieldTrend, Operator: OperatorEqual, Value: "increasing"},
			},
			Actions: []ActionSpec{
				{
					Type:            ActionResourceAllocation,
					AutomationLevel: LevelManualApproval,
					MaxImpact:       0.7,
					Rollbackable:    true,
					Parameters:      map[string]interface{}{"resource": "compute", "amount": 2},
				},
			},
		},
	}
}
