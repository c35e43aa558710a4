package aggregator

import (
	"context"
	"time"

	"github.com/oriys/alarmgen/internal/alarm"
	"github.com/oriys/alarmgen/internal/logging"
	"github.com/oriys/alarmgen/internal/metrics"
	"github.com/oriys/alarmgen/internal/observability"
	"github.com/oriys/alarmgen/internal/partition"
	"github.com/oriys/alarmgen/internal/store"
	"github.com/oriys/alarmgen/internal/uve"
)

// maxKeysPerCycle bounds the aggregator's per-partition, per-cycle work
// (spec.md §7 "Backpressure": "at most 200 keys per partition per cycle").
const maxKeysPerCycle = 200

// Cycle drains one partition's changed-keys bucket once per tick, merges
// touched types, computes the delta against the last published view,
// publishes to the aggregate store, and invokes the alarm evaluator — the
// per-partition drain cycle of spec.md §4.2.
type Cycle struct {
	Store      *store.Client
	Alarms     *alarm.Engine
	Perf       *PerfTracker
	MaxOutRows int

	views map[int]*View
}

// NewCycle constructs a drain-cycle driver bound to the aggregate store and
// alarm engine shared across all owned partitions.
func NewCycle(storeClient *store.Client, alarms *alarm.Engine, maxOutRows int) *Cycle {
	return &Cycle{
		Store:      storeClient,
		Alarms:     alarms,
		Perf:       NewPerfTracker(),
		MaxOutRows: maxOutRows,
		views:      make(map[int]*View),
	}
}

func (c *Cycle) viewFor(p int) *View {
	v, ok := c.views[p]
	if !ok {
		v = NewView()
		c.views[p] = v
	}
	return v
}

// DropPartition releases the cached last-published view for a released
// partition (spec.md §4.5 "release ... drop per-partition caches").
func (c *Cycle) DropPartition(p int) {
	delete(c.views, p)
}

// Run drains cons.Changes once, processing at most maxKeysPerCycle keys;
// any remainder stays queued for the next tick. The UVE table name used for
// alarm-rule scoping is derived from each key.
func (c *Cycle) Run(ctx context.Context, partitionNum int, cons *partition.Consumer, epochUs int64, now int64) error {
	ctx, span := observability.StartSpan(ctx, "aggregator.cycle",
		observability.AttrPartition.Int(partitionNum),
	)
	defer span.End()

	start := time.Now()
	defer func() { metrics.ObserveAggregationCycle(partitionNum, time.Since(start)) }()

	drained := cons.Changes.Drain()
	if len(drained) == 0 {
		observability.SetSpanOK(span)
		return nil
	}

	view := c.viewFor(partitionNum)
	var rows []store.Row
	processed := 0

	for key, changed := range drained {
		if processed >= maxKeysPerCycle {
			// Re-queue the remainder for the next cycle (spec.md §7).
			cons.Changes.MarkFull(key)
			continue
		}
		processed++

		ks := cons.Index.Get(key)
		if ks == nil {
			view.Forget(key)
			rows = append(rows, store.Row{Key: string(key)})
			continue
		}

		touched := c.mergeTouchedTypes(ks, changed)
		deltas := view.Diff(key, touched)
		for _, d := range deltas {
			if d.Removed {
				rows = append(rows, store.Row{Key: string(key), Type: string(d.Type)})
				continue
			}
			rows = append(rows, store.Row{Key: string(key), Type: string(d.Type), Value: d.Value.ToJSON()})
		}

		table := key.Table()
		callStart := time.Now()
		mergedView := objectOfTypes(ks)
		c.Alarms.Evaluate(table, string(key), mergedView, now)
		c.Perf.Table(table).CallTime.Observe(float64(time.Since(callStart).Milliseconds()))
		c.Perf.Table(table).UpdateCount.Observe(float64(len(touched)))
	}

	metrics.SetUVEKeys(partitionNum, len(cons.Index.Keys()))

	if len(rows) == 0 {
		observability.SetSpanOK(span)
		return nil
	}
	start2 := time.Now()
	if err := c.Store.PublishBatch(ctx, partitionNum, epochUs, rows, c.MaxOutRows); err != nil {
		logging.Op().Error("aggregator: publish batch failed", "partition", partitionNum, "error", err)
		observability.SetSpanError(span, err)
		return err
	}
	metrics.ObserveStorePublish("publish_batch", time.Since(start2))
	observability.SetSpanOK(span)
	return nil
}

// mergeTouchedTypes recomputes the aggregated value for every type named in
// changed (or every type the key currently carries, for a FULL resync),
// mapping a type to nil when it no longer has any contributor.
func (c *Cycle) mergeTouchedTypes(ks *partition.KeyState, changed map[uve.TypeName]bool) map[uve.TypeName]*uve.Value {
	types := changed
	if partition.IsFull(changed) {
		types = ks.Types()
	}

	out := make(map[uve.TypeName]*uve.Value, len(types))
	for t := range types {
		contributions := ks.ContributionsForType(t)
		if len(contributions) == 0 {
			out[t] = nil
			continue
		}
		agg := uve.AggDefault
		cs := make([]Contribution, 0, len(contributions))
		for gen, entry := range contributions {
			agg = entry.AggType
			cs = append(cs, Contribution{Generator: gen, Value: entry.Value})
		}
		out[t] = MergeType(agg, cs, MergeOptions{})
	}
	return out
}

// ObjectOfKeyState builds a flat {type -> merged value} object view of a key
// for the alarm evaluator to walk (spec.md §4.3's "aggregated view"), for
// re-evaluation driven from outside a drain cycle (e.g. the config feed).
func ObjectOfKeyState(ks *partition.KeyState) *uve.Value {
	return objectOfTypes(ks)
}

func objectOfTypes(ks *partition.KeyState) *uve.Value {
	fields := make(map[string]*uve.Value)
	for t := range ks.Types() {
		contributions := ks.ContributionsForType(t)
		agg := uve.AggDefault
		cs := make([]Contribution, 0, len(contributions))
		for gen, entry := range contributions {
			agg = entry.AggType
			cs = append(cs, Contribution{Generator: gen, Value: entry.Value})
		}
		fields[string(t)] = MergeType(agg, cs, MergeOptions{})
	}
	return uve.NewObject(fields)
}
