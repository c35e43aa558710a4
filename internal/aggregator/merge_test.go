package aggregator

import (
	"testing"

	"github.com/oriys/alarmgen/internal/uve"
)

func TestMergeSumStruct(t *testing.T) {
	gen1 := Contribution{
		Generator: "a:node:mod:0",
		Value: uve.NewObject(map[string]*uve.Value{
			"counters": uve.NewObject(map[string]*uve.Value{
				"a": uve.NewScalar(int64(3)),
			}),
		}),
	}
	gen2 := Contribution{
		Generator: "b:node:mod:0",
		Value: uve.NewObject(map[string]*uve.Value{
			"counters": uve.NewObject(map[string]*uve.Value{
				"a": uve.NewScalar(int64(5)),
			}),
		}),
	}

	merged := MergeType(uve.AggSum, []Contribution{gen1, gen2}, MergeOptions{})
	r := uve.WalkPath(merged, "counters.a")
	if !r.Found || len(r.Values) != 1 {
		t.Fatalf("walk: %+v", r)
	}
	f, ok := r.Values[0].AsFloat()
	if !ok || f != 8 {
		t.Fatalf("sum = %v, want 8", f)
	}
}

func TestMergeAppendListKeyFold(t *testing.T) {
	item := func(name string, bytes int64) *uve.Value {
		return uve.NewObject(map[string]*uve.Value{
			"name":  uve.NewScalar(name),
			"bytes": uve.NewScalar(bytes),
		})
	}

	gen1 := Contribution{Generator: "a", Value: uve.NewList([]*uve.Value{item("vif0", 10)})}
	gen2 := Contribution{Generator: "b", Value: uve.NewList([]*uve.Value{item("vif0", 20), item("vif1", 5)})}

	merged := MergeType(uve.AggAppend, []Contribution{gen1, gen2}, MergeOptions{})
	if merged.Kind != uve.KindList || len(merged.List) != 2 {
		t.Fatalf("expected 2 folded entries, got %+v", merged)
	}

	var foundVif0, foundVif1 bool
	for _, e := range merged.List {
		name := e.Object["name"].Scalar
		bytesVal, _ := e.Object["bytes"].AsFloat()
		switch name {
		case "vif0":
			foundVif0 = true
			if bytesVal != 30 {
				t.Fatalf("vif0 bytes = %v, want 30", bytesVal)
			}
		case "vif1":
			foundVif1 = true
			if bytesVal != 5 {
				t.Fatalf("vif1 bytes = %v, want 5", bytesVal)
			}
		}
	}
	if !foundVif0 || !foundVif1 {
		t.Fatalf("missing expected entries: %+v", merged)
	}
}

func TestMergeUnionDedup(t *testing.T) {
	gen1 := Contribution{Generator: "a", Value: uve.NewList([]*uve.Value{uve.NewScalar("x"), uve.NewScalar("y")})}
	gen2 := Contribution{Generator: "b", Value: uve.NewList([]*uve.Value{uve.NewScalar("y"), uve.NewScalar("z")})}

	merged := MergeType(uve.AggUnion, []Contribution{gen1, gen2}, MergeOptions{})
	if len(merged.List) != 3 {
		t.Fatalf("expected 3 distinct entries, got %d", len(merged.List))
	}
}
