// Package uve defines the UVE data model: keys, generators, and the dynamic
// value tree that carries per-type contributions from generators across the
// cluster, per spec.md §3.
package uve

import "strings"

// Key is the opaque "<table>:<name>" identifier of a UVE, e.g.
// "virtual-network:default-domain:admin:vn01". Only the first colon is
// significant.
type Key string

// Table returns the table component of the key (the part before the first colon).
func (k Key) Table() string {
	table, _, _ := cutFirst(string(k))
	return table
}

// Name returns the name component of the key (everything after the first colon).
func (k Key) Name() string {
	_, name, _ := cutFirst(string(k))
	return name
}

// NewKey builds a Key from a table and a name.
func NewKey(table, name string) Key {
	return Key(table + ":" + name)
}

func cutFirst(s string) (before, after string, found bool) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

// Generator is the opaque "<source>:<nodeType>:<module>:<instance>" identifier
// of a producing process.
type Generator string

// Parts splits the generator identifier into its four colon-separated components.
// If the identifier does not have exactly four components, the missing trailing
// components are returned empty.
func (g Generator) Parts() (source, nodeType, module, instance string) {
	parts := strings.SplitN(string(g), ":", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return parts[0], parts[1], parts[2], parts[3]
}

// TypeName is the name of a UVE substructure, e.g. "UveVirtualNetworkAgent".
type TypeName string

// Collector is the opaque identifier of an upstream relay node.
type Collector string
