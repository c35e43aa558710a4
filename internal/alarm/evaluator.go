package alarm

import (
	"encoding/json"

	"github.com/oriys/alarmgen/internal/uve"
)

// Match records one satisfied condition's operand values, per spec.md §4.3
// "For each matched condition, record (operand1_value_json, operand2_value_json,
// variables_json) as a Match".
type Match struct {
	Operand1Value json.RawMessage `json:"operand1_value"`
	Operand2Value json.RawMessage `json:"operand2_value"`
	Variables     json.RawMessage `json:"variables"`
}

// Evaluate runs a config's rule tree (or custom handler) against the
// aggregated view of one UVE key, returning one Match slice per satisfied
// AndList. A non-empty result means the alarm asserts.
func Evaluate(cfg *Config, key string, view *uve.Value) [][]Match {
	if cfg.Handler != nil {
		return cfg.Handler(key, view)
	}

	var asserted [][]Match
	for _, and := range cfg.Rules {
		if matches, ok := evalAnd(and, view); ok {
			asserted = append(asserted, matches)
		}
	}
	return asserted
}

func evalAnd(and AndList, view *uve.Value) ([]Match, bool) {
	matches := make([]Match, 0, len(and))
	for _, cond := range and {
		m, ok := evalCondition(cond, view)
		if !ok {
			return nil, false
		}
		matches = append(matches, m...)
	}
	return matches, true
}

func evalCondition(cond Condition, view *uve.Value) ([]Match, bool) {
	r1 := resolveOperand(cond.Operand1, view)
	if !r1.Found {
		return nil, false
	}
	r2 := resolveOperand(cond.Operand2, view)
	if !r2.Found {
		return nil, false
	}

	varsJSON := resolveVariables(cond.Variables, view)

	var matches []Match
	for _, v1 := range r1.Values {
		for _, v2 := range r2.Values {
			if ok, m := evalPair(cond, v1, v2, varsJSON); ok {
				matches = append(matches, m)
			}
		}
	}
	return matches, len(matches) > 0
}

func resolveOperand(op Operand, view *uve.Value) uve.Resolved {
	if op.Literal != nil {
		return uve.Resolved{Found: true, Values: []*uve.Value{op.Literal}}
	}
	return uve.WalkPath(view, op.Path)
}

// resolveVariables resolves a condition's variable paths against view for
// attachment to every Match it produces (spec.md §4.3).
func resolveVariables(paths []string, view *uve.Value) json.RawMessage {
	if len(paths) == 0 {
		b, _ := json.Marshal(map[string]json.RawMessage{})
		return b
	}
	out := make(map[string]json.RawMessage, len(paths))
	for _, p := range paths {
		r := uve.WalkPath(view, p)
		if !r.Found || len(r.Values) == 0 {
			out[p] = json.RawMessage("null")
			continue
		}
		if len(r.Values) == 1 {
			out[p] = valueJSON(r.Values[0])
			continue
		}
		arr := make([]json.RawMessage, len(r.Values))
		for i, v := range r.Values {
			arr[i] = valueJSON(v)
		}
		b, _ := json.Marshal(arr)
		out[p] = b
	}
	b, _ := json.Marshal(out)
	return b
}

func evalPair(cond Condition, v1, v2 *uve.Value, vars json.RawMessage) (bool, Match) {
	switch cond.Op {
	case OpIn, OpNotIn:
		return evalMembership(cond.Op, v1, v2), buildMatch(v1, v2, vars)
	case OpRange:
		return evalRange(v1, v2), buildMatch(v1, v2, vars)
	case OpSizeEQ, OpSizeNE:
		return evalSize(cond.Op, v1, v2), buildMatch(v1, v2, vars)
	}

	if v1.Kind == uve.KindList || v2.Kind == uve.KindList {
		return evalListFanOut(cond, v1, v2, vars)
	}
	return compareScalar(cond.Op, v1, v2), buildMatch(v1, v2, vars)
}

// evalListFanOut implements spec.md §4.3's list fan-out: two equal-length
// lists compare element-wise; a list against a scalar compares each element
// to the scalar; mismatched list lengths fail the whole condition.
func evalListFanOut(cond Condition, v1, v2 *uve.Value, vars json.RawMessage) (bool, Match) {
	l1, l2 := v1.Kind == uve.KindList, v2.Kind == uve.KindList
	switch {
	case l1 && l2:
		if len(v1.List) != len(v2.List) {
			return false, Match{}
		}
		any := false
		for i := range v1.List {
			if compareScalar(cond.Op, v1.List[i], v2.List[i]) {
				any = true
			}
		}
		return any, buildMatch(v1, v2, vars)
	case l1:
		any := false
		for _, e := range v1.List {
			if compareScalar(cond.Op, e, v2) {
				any = true
			}
		}
		return any, buildMatch(v1, v2, vars)
	default: // l2 only
		any := false
		for _, e := range v2.List {
			if compareScalar(cond.Op, v1, e) {
				any = true
			}
		}
		return any, buildMatch(v1, v2, vars)
	}
}

func buildMatch(v1, v2 *uve.Value, vars json.RawMessage) Match {
	return Match{
		Operand1Value: valueJSON(v1),
		Operand2Value: valueJSON(v2),
		Variables:     vars,
	}
}
