package partition

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oriys/alarmgen/internal/bus"
	"github.com/oriys/alarmgen/internal/logging"
	"github.com/oriys/alarmgen/internal/metrics"
	"github.com/oriys/alarmgen/internal/uve"
)

// Status reports one partition worker's health for the PartitionStatus
// admin contract (spec.md §6). It is not published as a state UVE.
type Status struct {
	Up         bool
	AcqTimeUs  int64
	LastOffset int64
	KeyCount   int

	// CollectorGeneratorCounts is the per-collector/generator UVE count
	// spec.md §6's PartitionStatus contract requires.
	CollectorGeneratorCounts map[uve.Collector]map[uve.Generator]int
}

// Consumer is one worker for one owned partition: it polls the bus,
// maintains the contributor index, and accumulates a changed-keys set for
// the aggregator to drain (spec.md §4.1).
type Consumer struct {
	Partition int
	Bus       bus.Consumer
	Index     *Index
	Changes   *ChangeSet

	mu         sync.Mutex
	up         bool
	lastOffset int64
	acqTimeUs  int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewConsumer constructs a partition worker. acqTimeUs is the epoch recorded
// by the partition manager at acquire time (spec.md §4.5).
func NewConsumer(partition int, b bus.Consumer, acqTimeUs int64) *Consumer {
	return &Consumer{
		Partition: partition,
		Bus:       b,
		Index:     NewIndex(),
		Changes:   NewChangeSet(),
		acqTimeUs: acqTimeUs,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run drives the consumer's poll loop until Stop is called or ctx is
// cancelled. It is meant to run as one cooperative goroutine per owned
// partition (spec.md §5).
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.doneCh)
	c.setUp(true)

	for {
		select {
		case <-ctx.Done():
			c.setUp(false)
			return
		case <-c.stopCh:
			c.setUp(false)
			return
		case ev := <-c.Bus.Resources():
			c.handleResourceEvent(ev)
		default:
		}

		records, err := c.Bus.Poll(ctx, 50)
		if err != nil {
			if ctx.Err() != nil {
				c.setUp(false)
				return
			}
			logging.Op().Warn("partition: poll error, backing off", "partition", c.Partition, "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}

		for _, rec := range records {
			c.handleRecord(rec)
		}
		if len(records) == 0 {
			time.Sleep(10 * time.Millisecond) // yield at least once per inner iteration, per spec.md §5
		}
	}
}

// Stop signals the consumer to exit; callers should then wait on Done with a
// timeout (spec.md §4.5/§5: "join with timeout (≤ 60 s)").
func (c *Consumer) Stop() {
	close(c.stopCh)
}

// Done reports when the run loop has exited.
func (c *Consumer) Done() <-chan struct{} { return c.doneCh }

func (c *Consumer) setUp(up bool) {
	c.mu.Lock()
	c.up = up
	c.mu.Unlock()
}

// Status returns a snapshot of partition health for the PartitionStatus
// admin contract.
func (c *Consumer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Up:                       c.up,
		AcqTimeUs:                c.acqTimeUs,
		LastOffset:               c.lastOffset,
		KeyCount:                 len(c.Index.Keys()),
		CollectorGeneratorCounts: c.Index.CollectorGeneratorCounts(),
	}
}

func (c *Consumer) handleRecord(rec bus.Record) {
	c.mu.Lock()
	c.lastOffset = rec.Offset
	c.mu.Unlock()
	metrics.RecordBusMessage(c.Partition)

	key, typ, generator, collector, ok := parseMessageKey(rec.Key)
	if !ok {
		logging.Op().Warn("partition: malformed message key, skipping", "partition", c.Partition, "key", rec.Key)
		return
	}

	switch {
	case rec.Value == nil:
		c.Index.Apply(collector, generator, key, typ, nil)
		c.Changes.MarkType(key, typ)
		return
	case len(rec.Value) == 0 || string(rec.Value) == "{}":
		// Notification only: the type exists but its payload is unchanged.
		if ks := c.Index.Get(key); ks != nil {
			c.Changes.MarkType(key, typ)
		}
		return
	default:
		wireType, agg, val, err := uve.ParseWireEnvelope(rec.Value)
		if err != nil {
			logging.Exception(key.Table(), string(key), string(typ), err)
			metrics.RecordPoisonMessage(key.Table())
			return // poison payload: log once, skip, offsets still advance
		}
		c.Index.Apply(collector, generator, key, typ, &TypeEntry{
			WireType: wireType,
			AggType:  agg,
			Value:    val,
		})
		c.Changes.MarkType(key, typ)
	}
}

func (c *Consumer) handleResourceEvent(ev bus.ResourceEvent) {
	if ev.Appeared {
		// A new collector appeared: resync every key whose contributor set
		// might now change, per spec.md §4.1.
		for _, key := range c.Index.Keys() {
			c.Changes.MarkFull(key)
		}
		return
	}

	// Collector departed: mark every key it contributes to for a FULL
	// resync. Its contributions stay in the index until tombstone messages
	// withdraw them; no contributor-removal events are published here.
	for _, key := range c.Index.Keys() {
		ks := c.Index.Get(key)
		if ks == nil {
			continue
		}
		if _, ok := ks.Contributors[uve.Collector(ev.Collector)]; ok {
			c.Changes.MarkFull(key)
		}
	}
}

func parseMessageKey(raw string) (key uve.Key, typ uve.TypeName, generator uve.Generator, collector uve.Collector, ok bool) {
	parts := strings.SplitN(raw, "|", 4)
	if len(parts) != 4 {
		return "", "", "", "", false
	}
	return uve.Key(parts[0]), uve.TypeName(parts[1]), uve.Generator(parts[2]), uve.Collector(parts[3]), true
}
