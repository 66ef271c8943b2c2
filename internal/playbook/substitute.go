package playbook

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// substitute expands ${var} from the variable map and
// ${steps.<name>.output} from prior step outputs. Unknown placeholders
// expand to the empty string.
func substitute(s string, vars map[string]string, outputs map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		key := m[2 : len(m)-1]
		if rest, ok := strings.CutPrefix(key, "steps."); ok {
			name, ok := strings.CutSuffix(rest, ".output")
			if !ok {
				return ""
			}
			return outputs[name]
		}
		return vars[key]
	})
}

// substituteParams deep-copies params with every string value expanded.
func substituteParams(params map[string]any, vars map[string]string, outputs map[string]string) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = substituteValue(v, vars, outputs)
	}
	return out
}

func substituteValue(v any, vars map[string]string, outputs map[string]string) any {
	switch val := v.(type) {
	case string:
		return substitute(val, vars, outputs)
	case map[string]any:
		return substituteParams(val, vars, outputs)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, vars, outputs)
		}
		return out
	default:
		return v
	}
}

// evalCondition decides whether a step runs. Supported forms, evaluated
// after substitution:
//
//	""                 always true
//	"true" / "false"   literal
//	"a == b"           string equality
//	"a != b"           string inequality
//	"non_empty:expr"   true when expr is not blank
func evalCondition(cond string, vars map[string]string, outputs map[string]string) bool {
	cond = strings.TrimSpace(substitute(cond, vars, outputs))
	if cond == "" || cond == "true" {
		return true
	}
	if cond == "false" {
		return false
	}
	if rest, ok := strings.CutPrefix(cond, "non_empty:"); ok {
		return strings.TrimSpace(rest) != ""
	}
	if left, right, ok := strings.Cut(cond, "!="); ok {
		return strings.TrimSpace(left) != strings.TrimSpace(right)
	}
	if left, right, ok := strings.Cut(cond, "=="); ok {
		return strings.TrimSpace(left) == strings.TrimSpace(right)
	}
	// Unrecognized condition: fail safe, skip the step.
	return false
}
