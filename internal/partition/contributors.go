// Package partition implements the Partition Consumer (spec.md §4.1): a
// per-partition bus consumer that maintains the contributor index and
// accumulates a changed-keys set for the aggregator to drain.
package partition

import (
	"github.com/google/uuid"

	"github.com/oriys/alarmgen/internal/uve"
)

// TypeEntry is one generator's current contribution for one UVE type.
type TypeEntry struct {
	Count    int
	UUID     string
	WireType string
	AggType  uve.AggType
	Value    *uve.Value
}

// KeyState is the per-partition index entry for one UVE key: the set of
// (collector, generator, type) contributions currently live for it.
type KeyState struct {
	// Contributors[collector][generator][type] = entry
	Contributors map[uve.Collector]map[uve.Generator]map[uve.TypeName]*TypeEntry
}

func newKeyState() *KeyState {
	return &KeyState{Contributors: make(map[uve.Collector]map[uve.Generator]map[uve.TypeName]*TypeEntry)}
}

// IsEmpty reports whether the key has no remaining contributions — the
// condition under which spec.md §4.1 deletes the key's entry entirely.
func (ks *KeyState) IsEmpty() bool {
	for _, gens := range ks.Contributors {
		for _, types := range gens {
			if len(types) > 0 {
				return false
			}
		}
	}
	return true
}

// Types returns the set of type names currently contributed to this key
// across all collectors and generators.
func (ks *KeyState) Types() map[uve.TypeName]bool {
	out := make(map[uve.TypeName]bool)
	for _, gens := range ks.Contributors {
		for _, types := range gens {
			for t := range types {
				out[t] = true
			}
		}
	}
	return out
}

// ContributionsForType returns every live (generator -> Value) contribution
// for a given type across all collectors/generators.
func (ks *KeyState) ContributionsForType(t uve.TypeName) map[uve.Generator]*TypeEntry {
	out := make(map[uve.Generator]*TypeEntry)
	for _, gens := range ks.Contributors {
		for g, types := range gens {
			if e, ok := types[t]; ok {
				out[g] = e
			}
		}
	}
	return out
}

// Index is the per-partition contributor table of spec.md §3, plus the
// secondary by_type index used to serve cfilt-style queries.
type Index struct {
	keys   map[uve.Key]*KeyState
	byType map[uve.TypeName]map[uve.Key]bool
}

// NewIndex creates an empty per-partition index.
func NewIndex() *Index {
	return &Index{
		keys:   make(map[uve.Key]*KeyState),
		byType: make(map[uve.TypeName]map[uve.Key]bool),
	}
}

// Get returns the KeyState for key, or nil if absent.
func (idx *Index) Get(key uve.Key) *KeyState {
	return idx.keys[key]
}

// Keys returns every UVE key currently present in the index.
func (idx *Index) Keys() []uve.Key {
	out := make([]uve.Key, 0, len(idx.keys))
	for k := range idx.keys {
		out = append(out, k)
	}
	return out
}

// CollectorGeneratorCounts returns, for every (collector, generator) pair
// contributing to this partition, the number of distinct UVE keys it
// contributes to, for the PartitionStatus admin contract's "per-collector/
// generator UVE counters" (spec.md §6).
func (idx *Index) CollectorGeneratorCounts() map[uve.Collector]map[uve.Generator]int {
	out := make(map[uve.Collector]map[uve.Generator]int)
	for _, ks := range idx.keys {
		for coll, gens := range ks.Contributors {
			genCounts, ok := out[coll]
			if !ok {
				genCounts = make(map[uve.Generator]int)
				out[coll] = genCounts
			}
			for gen, types := range gens {
				if len(types) > 0 {
					genCounts[gen]++
				}
			}
		}
	}
	return out
}

// KeysByType returns the keys currently contributing a given type, for
// cfilt-style queries (spec.md §17).
func (idx *Index) KeysByType(t uve.TypeName) []uve.Key {
	set := idx.byType[t]
	out := make([]uve.Key, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// Apply records one bus message's effect on the index, reporting whether the
// key was removed entirely. entry's Count and UUID are assigned here: Count
// increments on every re-contribution of the same (collector, generator,
// key, type), and UUID is minted once on first contribution and then held
// for the entry's lifetime, per partition_handler.py's msg_handler_single
// ("c" +=1 on existing entries, "u" = uuid.uuid1() only on creation).
func (idx *Index) Apply(collector uve.Collector, generator uve.Generator, key uve.Key, typ uve.TypeName, entry *TypeEntry) (removed bool) {
	ks, ok := idx.keys[key]
	if entry == nil {
		if !ok {
			return false
		}
		gens, ok := ks.Contributors[collector]
		if !ok {
			return false
		}
		types, ok := gens[generator]
		if !ok {
			return false
		}
		delete(types, typ)
		idx.unindexType(key, typ, ks)
		if len(types) == 0 {
			delete(gens, generator)
		}
		if len(gens) == 0 {
			delete(ks.Contributors, collector)
		}
		if ks.IsEmpty() {
			delete(idx.keys, key)
			return true
		}
		return false
	}

	if !ok {
		ks = newKeyState()
		idx.keys[key] = ks
	}
	gens, ok := ks.Contributors[collector]
	if !ok {
		gens = make(map[uve.Generator]map[uve.TypeName]*TypeEntry)
		ks.Contributors[collector] = gens
	}
	types, ok := gens[generator]
	if !ok {
		types = make(map[uve.TypeName]*TypeEntry)
		gens[generator] = types
	}
	if prev, ok := types[typ]; ok {
		entry.Count = prev.Count + 1
		entry.UUID = prev.UUID
	} else {
		entry.Count = 1
		entry.UUID = uuid.New().String()
	}
	types[typ] = entry
	idx.indexType(key, typ)
	return false
}

func (idx *Index) indexType(key uve.Key, typ uve.TypeName) {
	set, ok := idx.byType[typ]
	if !ok {
		set = make(map[uve.Key]bool)
		idx.byType[typ] = set
	}
	set[key] = true
}

func (idx *Index) unindexType(key uve.Key, typ uve.TypeName, ks *KeyState) {
	for _, gens := range ks.Contributors {
		for _, types := range gens {
			if _, ok := types[typ]; ok {
				return // still contributed by some other generator
			}
		}
	}
	if set, ok := idx.byType[typ]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(idx.byType, typ)
		}
	}
}

// RemoveKey drops every contribution for key, for use by the partition
// manager's release/cleanup path (spec.md §4.5).
func (idx *Index) RemoveKey(key uve.Key) {
	ks, ok := idx.keys[key]
	if !ok {
		return
	}
	for t := range ks.Types() {
		idx.unindexType(key, t, ks)
	}
	delete(idx.keys, key)
}
