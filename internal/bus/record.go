// Package bus defines the message-bus consumer contract (spec.md §1, §6)
// and a Kafka-backed implementation, grounded on the pack's Kafka consumer
// and client library examples.
package bus

import "context"

// Record is one bus message. Key decodes to "<uve-key>|<type>|<generator>|<collector>"
// per spec.md §6; Value is a JSON UVE struct, an empty object, or nil.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte // nil means a tombstone (withdrawal)
}

// ResourceEvent reports a collector appearing or disappearing on the bus,
// triggering the resync/cleanup behavior of spec.md §4.1.
type ResourceEvent struct {
	Partition int
	Collector string
	Appeared  bool
}

// Consumer is the contract the Partition Consumer (spec.md §4.1) needs from
// the message bus: bounded-batch polling, offset commit, and resource
// (collector up/down) notifications.
type Consumer interface {
	// Poll returns up to maxRecords records (spec.md §4.1's bounded
	// batches), blocking until at least one record is available or ctx is
	// done.
	Poll(ctx context.Context, maxRecords int) ([]Record, error)

	// Resources returns a channel of collector appear/disappear events for
	// the partitions this consumer watches.
	Resources() <-chan ResourceEvent

	// CommitOffset advances the committed read offset for a partition.
	CommitOffset(ctx context.Context, partition int, offset int64) error

	// Close releases the underlying bus client connection.
	Close() error
}
