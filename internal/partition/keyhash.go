package partition

import "github.com/cespare/xxhash/v2"

// PartitionOf returns the partition number a UVE key hashes to, per
// spec.md §4.1: hash(key) mod N.
func PartitionOf(key string, partitionCount int) int {
	return int(xxhash.Sum64String(key) % uint64(partitionCount))
}
