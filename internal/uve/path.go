package uve

import "strings"

// Resolved is the result of walking a dotted path against a Value tree. A
// missing intermediate attribute yields Resolved{Found: false}, which the
// alarm evaluator (spec.md §4.3) treats as a short-circuiting failure.
type Resolved struct {
	Found  bool
	Values []*Value // more than one entry when a "*"/list segment fans out
}

// single returns a Resolved wrapping exactly one value.
func single(v *Value) Resolved { return Resolved{Found: true, Values: []*Value{v}} }

var notFound = Resolved{Found: false}

// WalkPath resolves a dotted path against root. Segments "*" and "__value"
// enumerate dict values, "__key" enumerates dict keys, and any segment
// applied to a list fans out across its elements, per spec.md §4.3.
func WalkPath(root *Value, path string) Resolved {
	if path == "" {
		return single(root)
	}
	segments := strings.Split(path, ".")
	return walkSegments([]*Value{root}, segments)
}

func walkSegments(cur []*Value, segments []string) Resolved {
	if len(segments) == 0 {
		return Resolved{Found: true, Values: cur}
	}
	seg := segments[0]
	rest := segments[1:]

	var next []*Value
	for _, v := range cur {
		next = append(next, applySegment(v, seg)...)
	}

	if len(next) == 0 {
		return notFound
	}
	if len(rest) == 0 {
		return Resolved{Found: true, Values: next}
	}
	return walkSegments(next, rest)
}

// applySegment applies a single path segment to v, fanning out across list
// elements (possibly nested) before resolving against an object, per
// spec.md §4.3's "list segments fan out".
func applySegment(v *Value, seg string) []*Value {
	if v == nil || v.IsNull() {
		return nil
	}
	switch v.Kind {
	case KindList:
		var out []*Value
		for _, elem := range v.List {
			out = append(out, applySegment(elem, seg)...)
		}
		return out
	case KindObject:
		switch seg {
		case "*", "__value":
			out := make([]*Value, 0, len(v.Object))
			for _, child := range v.Object {
				out = append(out, child)
			}
			return out
		case "__key":
			out := make([]*Value, 0, len(v.Object))
			for k := range v.Object {
				out = append(out, NewScalar(k))
			}
			return out
		default:
			child, ok := v.Object[seg]
			if !ok {
				return nil
			}
			return []*Value{child}
		}
	default:
		return nil
	}
}
