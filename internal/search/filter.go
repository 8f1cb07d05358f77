package search

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Operators accepted in an operator map. A plain (non-map) condition value
// means eq.
var Operators = []string{"eq", "ne", "gt", "gte", "lt", "lte", "contains", "regex"}

// MatchState reports whether every condition holds. Fields are looked up in
// state first and then in data. A missing field, an unknown operator or a
// type mismatch means no match.
func MatchState(state, data map[string]any, conditions map[string]any) bool {
	for key, cond := range conditions {
		value, ok := lookup(key, state, data)
		if !ok {
			return false
		}
		ops, isOps := cond.(map[string]any)
		if !isOps {
			ops = map[string]any{"eq": cond}
		}
		for op, expected := range ops {
			if !compare(op, value, expected) {
				return false
			}
		}
	}
	return true
}

func lookup(key string, state, data map[string]any) (any, bool) {
	if v, ok := state[key]; ok {
		return v, true
	}
	if nested, ok := data["states"].(map[string]any); ok {
		if v, ok := nested[key]; ok {
			return v, true
		}
	}
	v, ok := data[key]
	return v, ok
}

func compare(op string, value, expected any) bool {
	switch op {
	case "eq":
		return equal(value, expected)
	case "ne":
		if !sameKind(value, expected) {
			return false
		}
		return !equal(value, expected)
	case "gt", "gte", "lt", "lte":
		return ordered(op, value, expected)
	case "contains":
		return contains(value, expected)
	case "regex":
		return matches(value, expected)
	}
	return false
}

func equal(a, b any) bool {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	if !sameKind(a, b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// sameKind treats all numeric types as one kind.
func sameKind(a, b any) bool {
	_, an := toFloat(a)
	_, bn := toFloat(b)
	if an || bn {
		return an && bn
	}
	return reflect.TypeOf(a) == reflect.TypeOf(b)
}

func ordered(op string, value, expected any) bool {
	if x, ok := toFloat(value); ok {
		y, ok := toFloat(expected)
		if !ok {
			return false
		}
		return cmp(op, x < y, x == y)
	}
	xs, ok1 := value.(string)
	ys, ok2 := expected.(string)
	if !ok1 || !ok2 {
		return false
	}
	return cmp(op, xs < ys, xs == ys)
}

func cmp(op string, less, eq bool) bool {
	switch op {
	case "gt":
		return !less && !eq
	case "gte":
		return !less
	case "lt":
		return less
	case "lte":
		return less || eq
	}
	return false
}

func contains(value, expected any) bool {
	switch v := value.(type) {
	case string:
		s, ok := expected.(string)
		return ok && strings.Contains(v, s)
	case []any:
		for _, item := range v {
			if equal(item, expected) {
				return true
			}
		}
	}
	return false
}

func matches(value, expected any) bool {
	pattern, ok := expected.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return false
	}
	return re.MatchString(fmt.Sprint(value))
}

func toFloat(v any) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
