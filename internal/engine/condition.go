package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// EvaluateCondition checks one condition against an event payload.
// Malformed input degrades to false; it never returns an error because a
// broken condition must not take down rule evaluation.
func EvaluateCondition(cond Condition, payload map[string]any) bool {
	field, ok := LookupField(payload, cond.Field)
	if !ok || field == nil {
		// A missing field fails every operator except not_equals against
		// a concrete value.
		return cond.Operator == OperatorNotEquals && cond.Value != nil
	}

	switch cond.Operator {
	case OperatorEquals:
		return looseEqual(field, cond.Value)
	case OperatorNotEquals:
		return !looseEqual(field, cond.Value)
	case OperatorGreaterThan:
		lhs, lok := toNumber(field)
		rhs, rok := toNumber(cond.Value)
		return lok && rok && lhs > rhs
	case OperatorLessThan:
		lhs, lok := toNumber(field)
		rhs, rok := toNumber(cond.Value)
		return lok && rok && lhs < rhs
	case OperatorContains:
		return strings.Contains(stringify(field), stringify(cond.Value))
	case OperatorBetween:
		if cond.SecondValue == nil {
			return false
		}
		v, vok := toNumber(field)
		lo, lok := toNumber(cond.Value)
		hi, hok := toNumber(cond.SecondValue)
		return vok && lok && hok && v >= lo && v <= hi
	default:
		return false
	}
}

// LookupField resolves a dotted path ("client.id") in a nested payload.
// The second return is false when any path segment is absent.
func LookupField(payload map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = payload
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares numerically when both sides parse as numbers,
// otherwise by string representation. Mirrors the forgiving comparison
// business rules are written against.
func looseEqual(a, b any) bool {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		return an == bn
	}
	return stringify(a) == stringify(b)
}

func toNumber(v any) (float64, bool) {
	switch typed := v.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case bool:
		return 0, false
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case nil:
		return 0, false
	default:
		return 0, false
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
