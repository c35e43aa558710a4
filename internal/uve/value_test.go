package uve

import (
	"encoding/json"
	"testing"
)

func TestParseWireEnvelopeScalar(t *testing.T) {
	raw := json.RawMessage(`{"@type":"struct","counters":{"@type":"struct","a":{"@type":"i64","#text":"3"}}}`)
	wireType, agg, v, err := ParseWireEnvelope(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if wireType != "struct" {
		t.Fatalf("wireType = %q", wireType)
	}
	if agg != AggDefault {
		t.Fatalf("agg = %q", agg)
	}
	r := WalkPath(v, "counters.a")
	if !r.Found || len(r.Values) != 1 {
		t.Fatalf("walk: %+v", r)
	}
	f, ok := r.Values[0].AsFloat()
	if !ok || f != 3 {
		t.Fatalf("value = %v ok=%v", f, ok)
	}
}

func TestWalkPathMissingIntermediate(t *testing.T) {
	v := NewObject(map[string]*Value{"x": NewScalar("DOWN")})
	r := WalkPath(v, "x.y")
	if r.Found {
		t.Fatalf("expected not found, got %+v", r)
	}
}

func TestWalkPathWildcardAndKey(t *testing.T) {
	v := NewObject(map[string]*Value{
		"a": NewScalar(int64(1)),
		"b": NewScalar(int64(2)),
	})
	vals := WalkPath(v, "*")
	if !vals.Found || len(vals.Values) != 2 {
		t.Fatalf("wildcard: %+v", vals)
	}
	keys := WalkPath(v, "__key")
	if !keys.Found || len(keys.Values) != 2 {
		t.Fatalf("keys: %+v", keys)
	}
}

func TestCanonicalDedup(t *testing.T) {
	a := NewObject(map[string]*Value{"name": NewScalar("vif0"), "bytes": NewScalar(int64(10))})
	b := NewObject(map[string]*Value{"bytes": NewScalar(int64(10)), "name": NewScalar("vif0")})
	if a.Canonical() != b.Canonical() {
		t.Fatalf("expected stable canonical form regardless of map iteration order")
	}
}
