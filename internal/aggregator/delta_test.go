package aggregator

import (
	"testing"

	"github.com/oriys/alarmgen/internal/uve"
)

func TestViewDiffAddedChangedRemoved(t *testing.T) {
	v := NewView()
	key := uve.Key("virtual-network:vn01")

	deltas := v.Diff(key, map[uve.TypeName]*uve.Value{"UveVirtualNetworkAgent": uve.NewScalar("a")})
	if len(deltas) != 1 || deltas[0].Removed {
		t.Fatalf("expected one added delta, got %+v", deltas)
	}

	// Re-diffing the same value yields no delta.
	deltas = v.Diff(key, map[uve.TypeName]*uve.Value{"UveVirtualNetworkAgent": uve.NewScalar("a")})
	if len(deltas) != 0 {
		t.Fatalf("expected no delta for unchanged value, got %+v", deltas)
	}

	deltas = v.Diff(key, map[uve.TypeName]*uve.Value{"UveVirtualNetworkAgent": uve.NewScalar("b")})
	if len(deltas) != 1 || deltas[0].Removed {
		t.Fatalf("expected one changed delta, got %+v", deltas)
	}

	deltas = v.Diff(key, map[uve.TypeName]*uve.Value{"UveVirtualNetworkAgent": nil})
	if len(deltas) != 1 || !deltas[0].Removed {
		t.Fatalf("expected one removed delta, got %+v", deltas)
	}
}
