// Package aggregator implements the UVE Aggregator (spec.md §4.2): merging
// per-generator type contributions into one aggregated view, computing the
// delta against the last published view, and publishing both to the
// aggregate store.
package aggregator

import (
	"sort"

	"github.com/oriys/alarmgen/internal/uve"
)

// timestampField is the special attribute that keeps only the latest value
// instead of being summed when sumPair merges two objects (the sum merge and
// append's listkey folding), per spec.md §4.2 step 2. The union and default
// merges do not treat it specially.
const timestampField = "__T"

// defaultListKeyField is the element field folded on during "append"
// aggregation when the type schema does not name one explicitly.
const defaultListKeyField = "name"

// Contribution pairs a generator with the Value it reported for a type.
type Contribution struct {
	Generator uve.Generator
	Value     *uve.Value
}

// MergeOptions configures a single MergeType call.
type MergeOptions struct {
	ListKeyField string // element field folded on during "append"; defaults to "name"
}

// MergeType merges one UVE type's per-generator contributions into a single
// aggregated Value, according to the type's aggregation hint (spec.md §4.2
// step 2).
func MergeType(agg uve.AggType, contributions []Contribution, opts MergeOptions) *uve.Value {
	sorted := make([]Contribution, len(contributions))
	copy(sorted, contributions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Generator < sorted[j].Generator })

	switch agg {
	case uve.AggSum:
		return mergeSum(sorted)
	case uve.AggUnion:
		return mergeUnion(sorted)
	case uve.AggAppend:
		keyField := opts.ListKeyField
		if keyField == "" {
			keyField = defaultListKeyField
		}
		return mergeAppend(sorted, keyField)
	default:
		return mergeDefault(sorted)
	}
}

func mergeSum(contributions []Contribution) *uve.Value {
	if len(contributions) == 0 {
		return uve.Null
	}
	acc := contributions[0].Value
	for _, c := range contributions[1:] {
		acc = sumPair(acc, c.Value)
	}
	return acc
}

func sumPair(a, b *uve.Value) *uve.Value {
	if a.IsNull() {
		return b
	}
	if b.IsNull() {
		return a
	}
	if a.Kind == uve.KindScalar && b.Kind == uve.KindScalar {
		af, aok := a.AsFloat()
		bf, bok := b.AsFloat()
		if aok && bok {
			return uve.NewScalar(sumAsSameShape(a.Scalar, af+bf))
		}
		return b // non-numeric scalars: last contributor wins
	}
	if a.Kind == uve.KindObject && b.Kind == uve.KindObject {
		out := make(map[string]*uve.Value, len(a.Object))
		for k, v := range a.Object {
			out[k] = v
		}
		for k, bv := range b.Object {
			if k == timestampField {
				out[k] = latestTimestamp(out[k], bv)
				continue
			}
			if av, ok := out[k]; ok {
				out[k] = sumPair(av, bv)
			} else {
				out[k] = bv
			}
		}
		return uve.NewObject(out)
	}
	return b
}

// sumAsSameShape re-wraps a sum so int64 leaves stay int64 (matching the
// spec.md scenario `UveX.counters.a.#text` staying an integer after summing
// i64 contributions).
func sumAsSameShape(sample any, sum float64) any {
	if _, ok := sample.(int64); ok {
		return int64(sum)
	}
	return sum
}

func latestTimestamp(a, b *uve.Value) *uve.Value {
	if a.IsNull() {
		return b
	}
	if b.IsNull() {
		return a
	}
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if aok && bok && bf > af {
		return b
	}
	return a
}

func mergeUnion(contributions []Contribution) *uve.Value {
	if len(contributions) == 0 {
		return uve.Null
	}
	if contributions[0].Value.Kind == uve.KindObject {
		out := make(map[string]*uve.Value)
		for _, c := range contributions {
			if c.Value.IsNull() {
				continue
			}
			for k, v := range c.Value.Object {
				out[string(c.Generator)+":"+k] = v
			}
		}
		return uve.NewObject(out)
	}

	seen := make(map[string]bool)
	var out []*uve.Value
	for _, c := range contributions {
		if c.Value.IsNull() {
			continue
		}
		elems := c.Value.List
		if c.Value.Kind != uve.KindList {
			elems = []*uve.Value{c.Value}
		}
		for _, e := range elems {
			canon := e.Canonical()
			if seen[canon] {
				continue
			}
			seen[canon] = true
			out = append(out, e)
		}
	}
	return uve.NewList(out)
}

func mergeAppend(contributions []Contribution, listKeyField string) *uve.Value {
	type entry struct {
		val      *uve.Value
		hasKey   bool
		keyValue string
	}
	var entries []entry

	for _, c := range contributions {
		if c.Value.IsNull() {
			continue
		}
		elems := c.Value.List
		if c.Value.Kind != uve.KindList {
			elems = []*uve.Value{c.Value}
		}
		for _, e := range elems {
			if e.Kind == uve.KindObject {
				if kv, ok := e.Object[listKeyField]; ok && kv.Kind == uve.KindScalar {
					entries = append(entries, entry{val: e, hasKey: true, keyValue: kv.Canonical()})
					continue
				}
			}
			entries = append(entries, entry{val: e})
		}
	}

	foldedIdx := make(map[string]int)
	var out []*uve.Value
	for _, e := range entries {
		if !e.hasKey {
			out = append(out, e.val)
			continue
		}
		if idx, ok := foldedIdx[e.keyValue]; ok {
			out[idx] = sumPair(out[idx], e.val)
			continue
		}
		foldedIdx[e.keyValue] = len(out)
		out = append(out, e.val)
	}
	return uve.NewList(out)
}

// mergeDefault keeps one aggregated entry per distinct value, carrying the
// list of contributing sources, per spec.md §4.2 step 2's default rule.
func mergeDefault(contributions []Contribution) *uve.Value {
	if len(contributions) == 0 {
		return uve.Null
	}
	if len(contributions) == 1 {
		return contributions[0].Value
	}

	type group struct {
		value   *uve.Value
		sources []string
	}
	order := make([]string, 0, len(contributions))
	groups := make(map[string]*group)
	for _, c := range contributions {
		canon := c.Value.Canonical()
		g, ok := groups[canon]
		if !ok {
			g = &group{value: c.Value}
			groups[canon] = g
			order = append(order, canon)
		}
		g.sources = append(g.sources, string(c.Generator))
	}

	out := make([]*uve.Value, 0, len(order))
	for _, canon := range order {
		g := groups[canon]
		sources := make([]*uve.Value, len(g.sources))
		for i, s := range g.sources {
			sources[i] = uve.NewScalar(s)
		}
		out = append(out, uve.NewObject(map[string]*uve.Value{
			"value":   g.value,
			"sources": uve.NewList(sources),
		}))
	}
	return uve.NewList(out)
}
