package partition

import "github.com/oriys/alarmgen/internal/uve"

// Full is the sentinel changed-type set meaning "resync this key entirely",
// e.g. when a new collector appears (spec.md §4.1).
var Full = map[uve.TypeName]bool{"__FULL__": true}

// ChangeSet accumulates the changed-keys set for one partition between
// aggregator drain cycles (spec.md §4.1: "Accumulate a changed-keys set ...
// Drain to the aggregator at a fixed cadence"). Writer and reader are both
// cooperative tasks on the same goroutine scheduler, so no lock is needed.
type ChangeSet struct {
	keys map[uve.Key]map[uve.TypeName]bool
}

// NewChangeSet creates an empty changed-keys bucket.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{keys: make(map[uve.Key]map[uve.TypeName]bool)}
}

// MarkType records that one type of key changed, coalescing with any
// pending change for the same key.
func (c *ChangeSet) MarkType(key uve.Key, typ uve.TypeName) {
	if c.keys[key] != nil && isFull(c.keys[key]) {
		return // already a full resync; adding a type is redundant
	}
	set, ok := c.keys[key]
	if !ok {
		set = make(map[uve.TypeName]bool)
		c.keys[key] = set
	}
	set[typ] = true
}

// MarkFull records that key needs a full resync, overriding any partial
// change already queued for it.
func (c *ChangeSet) MarkFull(key uve.Key) {
	c.keys[key] = Full
}

// Drain removes and returns every pending change, for the aggregator to
// process. The bucket is left empty.
func (c *ChangeSet) Drain() map[uve.Key]map[uve.TypeName]bool {
	if len(c.keys) == 0 {
		return nil
	}
	out := c.keys
	c.keys = make(map[uve.Key]map[uve.TypeName]bool)
	return out
}

// Len reports the number of keys with a pending change.
func (c *ChangeSet) Len() int { return len(c.keys) }

func isFull(set map[uve.TypeName]bool) bool {
	return set["__FULL__"]
}

// IsFull reports whether a drained change-set entry is the FULL sentinel.
func IsFull(set map[uve.TypeName]bool) bool { return isFull(set) }
