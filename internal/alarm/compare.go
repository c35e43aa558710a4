package alarm

import (
	"encoding/json"
	"fmt"

	"github.com/oriys/alarmgen/internal/uve"
)

// compareOrdered applies <, <=, >, >= with the null semantics of spec.md
// §4.3: null is strictly less than any non-null value under < and <=, and
// mirrored under > and >=.
func compareOrdered(op Op, a, b *uve.Value) bool {
	an, bn := a.IsNull(), b.IsNull()
	switch op {
	case OpLT:
		if an || bn {
			return an && !bn
		}
	case OpLE:
		if an || bn {
			return an || (!an && !bn)
		}
	case OpGT:
		if an || bn {
			return !an && bn
		}
	case OpGE:
		if an || bn {
			return bn || (!an && !bn)
		}
	}
	x, okx := a.AsFloat()
	y, oky := b.AsFloat()
	if okx && oky {
		switch op {
		case OpLT:
			return x < y
		case OpLE:
			return x <= y
		case OpGT:
			return x > y
		case OpGE:
			return x >= y
		}
	}
	sx, sy := scalarString(a), scalarString(b)
	switch op {
	case OpLT:
		return sx < sy
	case OpLE:
		return sx <= sy
	case OpGT:
		return sx > sy
	case OpGE:
		return sx >= sy
	}
	return false
}

func scalarString(v *uve.Value) string {
	if v.IsNull() || v.Kind != uve.KindScalar {
		return ""
	}
	return fmt.Sprintf("%v", v.Scalar)
}

// equalByIdentity implements == and != (spec.md §4.3: "by identity"): null
// equals only null, and scalars compare by their canonical JSON form.
func equalByIdentity(a, b *uve.Value) bool {
	if a.IsNull() != b.IsNull() {
		return false
	}
	if a.IsNull() {
		return true
	}
	return a.Canonical() == b.Canonical()
}

// compareScalar evaluates a non-membership, non-range, non-size operator
// against a single (possibly list-fanned) pair of values.
func compareScalar(op Op, a, b *uve.Value) bool {
	switch op {
	case OpEQ:
		return equalByIdentity(a, b)
	case OpNE:
		return !equalByIdentity(a, b)
	case OpLT, OpLE, OpGT, OpGE:
		return compareOrdered(op, a, b)
	default:
		return false
	}
}

// evalMembership implements "in" / "not in": operand2 must resolve to a
// list, else "in" is false and "not in" is true (spec.md §4.3).
func evalMembership(op Op, a, b *uve.Value) bool {
	if b.Kind != uve.KindList {
		return op == OpNotIn
	}
	found := false
	needle := a.Canonical()
	for _, e := range b.List {
		if e.Canonical() == needle {
			found = true
			break
		}
	}
	if op == OpIn {
		return found
	}
	return !found
}

// evalRange implements "range": operand2 is a 2-element [min, max] literal
// list; the condition holds when min <= a <= max.
func evalRange(a, b *uve.Value) bool {
	if b.Kind != uve.KindList || len(b.List) != 2 {
		return false
	}
	return compareOrdered(OpGE, a, b.List[0]) && compareOrdered(OpLE, a, b.List[1])
}

// evalSize implements size==/size!=: the size of a is its list length,
// object field count, or string length; compared against operand2's numeric
// literal.
func evalSize(op Op, a, b *uve.Value) bool {
	n, ok := sizeOf(a)
	if !ok {
		return false
	}
	want, ok := b.AsFloat()
	if !ok {
		return false
	}
	if op == OpSizeEQ {
		return float64(n) == want
	}
	return float64(n) != want
}

func sizeOf(v *uve.Value) (int, bool) {
	switch v.Kind {
	case uve.KindList:
		return len(v.List), true
	case uve.KindObject:
		return len(v.Object), true
	case uve.KindScalar:
		if s, ok := v.Scalar.(string); ok {
			return len(s), true
		}
	}
	return 0, false
}

func valueJSON(v *uve.Value) json.RawMessage {
	b, err := json.Marshal(v.ToJSON())
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
