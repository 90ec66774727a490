package automation

import (
	"fmt"
	"reflect"
	"strings"
)

// Operator is a comparison applied by a condition
type Operator string

const (
	OperatorGreaterThan    Operator = "gt"
	OperatorLessThan       Operator = "lt"
	OperatorEqual          Operator = "eq"
	OperatorGreaterOrEqual Operator = "gte"
	OperatorLessOrEqual    Operator = "lte"
	OperatorContains       Operator = "contains"
	OperatorIn             Operator = "in"
)

// ValidOperator reports whether op is a known operator
func ValidOperator(op Operator) bool {
	switch op {
	case OperatorGreaterThan, OperatorLessThan, OperatorEqual, OperatorGreaterOrEqual,
		OperatorLessOrEqual, OperatorContains, OperatorIn:
		return true
	}
	return false
}

// Condition tests one field of events of a given kind
type Condition struct {
	Type          EventKind   `json:"type" yaml:"type"`
	Field         Field       `json:"field" yaml:"field"`
	Operator      Operator    `json:"operator" yaml:"operator"`
	Value         interface{} `json:"value" yaml:"value"`
	MinConfidence float64     `json:"min_confidence,omitempty" yaml:"min_confidence"`
}

// Applies reports whether the condition is about this kind of event
func (c Condition) Applies(e Event) bool {
	return e != nil && c.Type == e.Kind()
}

// Evaluate tests the condition against an event. Missing fields, unknown
// operators and type mismatches evaluate to false.
func (c Condition) Evaluate(e Event) bool {
	if !c.Applies(e) {
		return false
	}
	if c.MinConfidence > 0 && e.Confidence() < c.MinConfidence {
		return false
	}

	actual, ok := e.Field(c.Field)
	if !ok {
		return false
	}
	return Compare(c.Operator, actual, c.Value)
}

// Validate checks the condition against the fields its event kind exposes
func (c Condition) Validate() error {
	if !ValidKind(c.Type) {
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	if !ValidField(c.Type, c.Field) {
		return fmt.Errorf("field %q is not available on %s events", c.Field, c.Type)
	}
	if !ValidOperator(c.Operator) {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}
	if c.Operator == OperatorIn {
		if _, ok := asList(c.Value); !ok {
			return fmt.Errorf("operator in requires a list value")
		}
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1]")
	}
	return nil
}

// Compare applies op to actual and expected
func Compare(op Operator, actual, expected interface{}) bool {
	if actual == nil {
		return false
	}

	switch op {
	case OperatorGreaterThan, OperatorLessThan, OperatorGreaterOrEqual, OperatorLessOrEqual:
		a, okA := toFloat(actual)
		b, okB := toFloat(expected)
		if !okA || !okB {
			return false
		}
		switch op {
		case OperatorGreaterThan:
			return a > b
		case OperatorLessThan:
			return a < b
		case OperatorGreaterOrEqual:
			return a >= b
		default:
			return a <= b
		}

	case OperatorEqual:
		return equal(actual, expected)

	case OperatorContains:
		if s, ok := actual.(string); ok {
			sub, ok := expected.(string)
			return ok && strings.Contains(s, sub)
		}
		if list, ok := asList(actual); ok {
			for _, item := range list {
				if equal(item, expected) {
					return true
				}
			}
		}
		return false

	case OperatorIn:
		list, ok := asList(expected)
		if !ok {
			return false
		}
		for _, item := range list {
			if equal(actual, item) {
				return true
			}
		}
		return false
	}

	return false
}

func equal(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func asList(v interface{}) ([]interface{}, bool) {
	switch list := v.(type) {
	case []interface{}:
		return list, true
	case []string:
		out := make([]interface{}, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]interface{}, len(list))
		for i, f := range list {
			out[i] = f
		}
		return out, true
	case []int:
		out := make([]interface{}, len(list))
		for i, n := range list {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}
