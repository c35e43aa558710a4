package uve

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind tags the variant of a Value, per spec.md §9 ("Dynamic attribute access
// ... becomes a path-walker function over a UveValue sum type {Scalar, Object,
// List, Null}. No reflection; all dispatch is on the variant tag").
type Kind int

const (
	KindNull Kind = iota
	KindScalar
	KindObject
	KindList
)

// Value is the decoded form of one UVE type's payload (or a sub-tree of it).
// Exactly one of Scalar/Object/List is meaningful, selected by Kind.
type Value struct {
	Kind   Kind
	Scalar any // string, float64, bool, or int64
	Object map[string]*Value
	List   []*Value
}

// Null is the shared zero-allocation null value.
var Null = &Value{Kind: KindNull}

// NewScalar wraps a Go scalar (string/float64/bool/int64) as a Value.
func NewScalar(v any) *Value { return &Value{Kind: KindScalar, Scalar: v} }

// NewObject wraps a field map as a Value.
func NewObject(fields map[string]*Value) *Value { return &Value{Kind: KindObject, Object: fields} }

// NewList wraps a slice of elements as a Value.
func NewList(elems []*Value) *Value { return &Value{Kind: KindList, List: elems} }

// IsNull reports whether v is nil or the Null variant.
func (v *Value) IsNull() bool { return v == nil || v.Kind == KindNull }

// ParseWireEnvelope decodes one type's JSON payload (as emitted on the bus,
// spec.md §6) into its declared wire type, its aggregation hint, and the
// decoded value tree. The envelope convention, adapted from the UVE wire
// format: a struct/scalar carries "@type" and optionally "@aggtype" sibling
// keys; a scalar leaf additionally carries "#text" holding its textual value;
// every other sibling key is a child field.
func ParseWireEnvelope(raw json.RawMessage) (wireType string, agg AggType, val *Value, err error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", "", nil, fmt.Errorf("uve: decode wire envelope: %w", err)
	}

	obj, ok := generic.(map[string]any)
	if !ok {
		v, err := fromGeneric(generic)
		return "", AggDefault, v, err
	}

	wireType, _ = obj["@type"].(string)
	agg = ParseAggType(stringField(obj, "@aggtype"))

	v, err := parseNode(obj)
	return wireType, agg, v, err
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// parseNode turns a decoded JSON object into a Value, recursing into
// non-annotation fields as children.
func parseNode(obj map[string]any) (*Value, error) {
	if text, ok := obj["#text"]; ok {
		return scalarFromText(stringField(obj, "@type"), text)
	}

	if stringField(obj, "@type") == "list" {
		raw, ok := obj["list"]
		if !ok {
			return NewList(nil), nil
		}
		return fromGeneric(raw)
	}

	fields := make(map[string]*Value, len(obj))
	for k, raw := range obj {
		if len(k) > 0 && k[0] == '@' {
			continue
		}
		child, err := fromGeneric(raw)
		if err != nil {
			return nil, err
		}
		fields[k] = child
	}
	return NewObject(fields), nil
}

// fromGeneric converts an arbitrary decoded JSON value (map/slice/scalar/nil)
// into a Value, recursing through wire-envelope objects.
func fromGeneric(raw any) (*Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null, nil
	case map[string]any:
		return parseNode(t)
	case []any:
		elems := make([]*Value, 0, len(t))
		for _, item := range t {
			v, err := fromGeneric(item)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		return NewList(elems), nil
	default:
		return NewScalar(t), nil
	}
}

func scalarFromText(wireType string, text any) (*Value, error) {
	s := fmt.Sprintf("%v", text)
	switch wireType {
	case "i64", "u64", "i32", "u32", "i16", "u16", "byte":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("uve: parse %s scalar %q: %w", wireType, s, err)
		}
		return NewScalar(n), nil
	case "double":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("uve: parse double scalar %q: %w", s, err)
		}
		return NewScalar(f), nil
	case "bool":
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("uve: parse bool scalar %q: %w", s, err)
		}
		return NewScalar(b), nil
	default:
		return NewScalar(s), nil
	}
}

// Canonical returns a stable JSON-canonical string form of v, used to compare
// list elements for dedup during "union" aggregation (spec.md §4.2 step 2).
func (v *Value) Canonical() string {
	if v.IsNull() {
		return "null"
	}
	switch v.Kind {
	case KindScalar:
		b, _ := json.Marshal(v.Scalar)
		return string(b)
	case KindList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.Canonical()
		}
		b, _ := json.Marshal(parts)
		return string(b)
	case KindObject:
		keys := make([]string, 0, len(v.Object))
		for k := range v.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			kb, _ := json.Marshal(k)
			out += string(kb) + ":" + v.Object[k].Canonical()
		}
		return out + "}"
	default:
		return "null"
	}
}

// ToJSON converts v back to a plain JSON-marshalable value (maps/slices/
// scalars, with no wire-envelope annotations), suitable for writing to the
// aggregate store.
func (v *Value) ToJSON() any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind {
	case KindScalar:
		return v.Scalar
	case KindList:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = e.ToJSON()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.Object))
		for k, e := range v.Object {
			out[k] = e.ToJSON()
		}
		return out
	default:
		return nil
	}
}

// AsFloat reports the numeric value of a scalar leaf, if any.
func (v *Value) AsFloat() (float64, bool) {
	if v.IsNull() || v.Kind != KindScalar {
		return 0, false
	}
	switch n := v.Scalar.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
