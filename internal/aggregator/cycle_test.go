package aggregator

import (
	"testing"

	"github.com/oriys/alarmgen/internal/partition"
	"github.com/oriys/alarmgen/internal/uve"
)

func TestMergeTouchedTypesFullResync(t *testing.T) {
	c := &Cycle{}
	idx := partition.NewIndex()
	idx.Apply("collector-a", "src:node:mod:0", "T:k1", "UveFoo", &partition.TypeEntry{
		AggType: uve.AggSum,
		Value:   uve.NewScalar(int64(3)),
	})

	ks := idx.Get("T:k1")
	out := c.mergeTouchedTypes(ks, partition.Full)
	if len(out) != 1 {
		t.Fatalf("expected 1 touched type for full resync, got %d", len(out))
	}
	v, ok := out["UveFoo"]
	if !ok || v == nil {
		t.Fatalf("expected UveFoo present, got %+v", out)
	}
	f, _ := v.AsFloat()
	if f != 3 {
		t.Fatalf("expected merged value 3, got %v", f)
	}
}

func TestMergeTouchedTypesWithdrawnTypeIsNil(t *testing.T) {
	c := &Cycle{}
	idx := partition.NewIndex()
	idx.Apply("collector-a", "src:node:mod:0", "T:k1", "UveFoo", &partition.TypeEntry{
		AggType: uve.AggDefault,
		Value:   uve.NewScalar("x"),
	})
	idx.Apply("collector-a", "src:node:mod:0", "T:k1", "UveBar", &partition.TypeEntry{
		AggType: uve.AggDefault,
		Value:   uve.NewScalar("y"),
	})
	idx.Apply("collector-a", "src:node:mod:0", "T:k1", "UveFoo", nil) // withdraw

	// UveBar keeps the key alive, so the withdrawal reaches mergeTouchedTypes.
	ks := idx.Get("T:k1")
	if ks == nil {
		t.Fatalf("expected T:k1 to remain while UveBar is contributed")
	}
	out := c.mergeTouchedTypes(ks, map[uve.TypeName]bool{"UveFoo": true})
	v, ok := out["UveFoo"]
	if !ok || v != nil {
		t.Fatalf("expected withdrawn UveFoo mapped to nil, got %+v", out)
	}
}
