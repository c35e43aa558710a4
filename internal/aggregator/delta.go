package aggregator

import (
	"encoding/json"

	"github.com/oriys/alarmgen/internal/uve"
)

// published tracks the last value published for one UVE key, type-by-type,
// so the aggregator can compute added/changed/removed sets (spec.md §4.2
// step 3) instead of republishing everything every cycle.
type published struct {
	types map[uve.TypeName]string // last published canonical JSON per type
}

// View caches the last-published state of every key the aggregator has
// ever produced a view for, keyed by UVE key.
type View struct {
	keys map[uve.Key]*published
}

// NewView creates an empty last-published-view cache.
func NewView() *View {
	return &View{keys: make(map[uve.Key]*published)}
}

// Delta is one type's change relative to the last published view.
type Delta struct {
	Type    uve.TypeName
	Removed bool
	Value   *uve.Value // nil when Removed
}

// Diff computes added/changed/removed deltas for the set of types touched
// this cycle (spec.md §4.2 step 3): a nil Value for a touched type means it
// was withdrawn. Types not present in touched are left untouched in the
// cached view, since only the changed-keys bucket's marked types were
// re-merged this cycle.
func (v *View) Diff(key uve.Key, touched map[uve.TypeName]*uve.Value) []Delta {
	prev, ok := v.keys[key]
	if !ok {
		prev = &published{types: make(map[uve.TypeName]string)}
		v.keys[key] = prev
	}

	var deltas []Delta
	for typ, val := range touched {
		if val == nil {
			if _, existed := prev.types[typ]; existed {
				delete(prev.types, typ)
				deltas = append(deltas, Delta{Type: typ, Removed: true})
			}
			continue
		}
		canon := canonicalJSON(val)
		if old, ok := prev.types[typ]; ok && old == canon {
			continue
		}
		prev.types[typ] = canon
		deltas = append(deltas, Delta{Type: typ, Value: val})
	}
	return deltas
}

// Forget drops key from the cache entirely, emitting no deltas; used when a
// key is withdrawn wholesale (spec.md §4.1 "key removed entirely").
func (v *View) Forget(key uve.Key) {
	delete(v.keys, key)
}

func canonicalJSON(v *uve.Value) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v.ToJSON())
	if err != nil {
		return v.Canonical()
	}
	return string(b)
}
