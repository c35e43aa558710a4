package uve

// AggType is the aggregation hint carried by a UVE type's wire envelope
// (the "@aggtype" annotation of spec.md §3), governing how the aggregator
// merges per-generator contributions for that type into one view.
type AggType string

const (
	// AggSum sums numeric scalars, or numeric leaves of a struct field-wise.
	AggSum AggType = "sum"
	// AggUnion set-unions lists or maps across generators with stable dedup.
	AggUnion AggType = "union"
	// AggAppend concatenates list contributions, folding entries that share
	// a "listkey" field.
	AggAppend AggType = "append"
	// AggListKey marks the identity field of a list element folded by AggAppend.
	// It never appears as a top-level type aggtype.
	AggListKey AggType = "listkey"
	// AggDefault keeps one aggregated entry per distinct value, carrying the
	// list of contributing sources.
	AggDefault AggType = "default"
)

// ParseAggType normalizes a raw "@aggtype" string, defaulting to AggDefault.
func ParseAggType(raw string) AggType {
	switch AggType(raw) {
	case AggSum, AggUnion, AggAppend, AggListKey:
		return AggType(raw)
	default:
		return AggDefault
	}
}
