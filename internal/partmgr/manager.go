package partmgr

import (
	"context"
	"sync"
	"time"

	"github.com/oriys/alarmgen/internal/bus"
	"github.com/oriys/alarmgen/internal/logging"
	"github.com/oriys/alarmgen/internal/metrics"
	"github.com/oriys/alarmgen/internal/partition"
	"github.com/oriys/alarmgen/internal/store"
)

// BusFactory opens a bus consumer scoped to one partition's topic.
type BusFactory func(partition int) (bus.Consumer, error)

// CleanupFunc is invoked on release with the released partition (spec.md
// §4.5 "Stop sequence (release)"). The daemon wires it to
// aggregator.Cycle.DropPartition, which drops the partition's cached views;
// alarms raised for keys in that partition are not withdrawn by it.
type CleanupFunc func(partition int)

const releaseJoinTimeout = 60 * time.Second

// Manager drives the acquire/release lifecycle of Partition Consumers in
// response to ConsistentHashAssigner membership changes, grounded on the
// pack's partition-instance lifecycle pattern
// (daverigby-indexing/secondary/indexer/partition_instance.go) and the
// tenant isolation start/stop bookkeeping it mirrors.
type Manager struct {
	mu         sync.Mutex
	store      *store.Client
	busFactory BusFactory
	cleanup    CleanupFunc

	running map[int]*ownedPartition
	epochs  map[int]int64
}

type ownedPartition struct {
	consumer *partition.Consumer
	bus      bus.Consumer
	cancel   context.CancelFunc
}

// NewManager constructs a Manager bound to the aggregate store client and a
// bus factory used to open one consumer per newly acquired partition.
func NewManager(storeClient *store.Client, busFactory BusFactory, cleanup CleanupFunc) *Manager {
	return &Manager{
		store:      storeClient,
		busFactory: busFactory,
		cleanup:    cleanup,
		running:    make(map[int]*ownedPartition),
		epochs:     make(map[int]int64),
	}
}

// Reconcile brings the running partition set in line with owned, acquiring
// newly owned partitions and releasing ones no longer owned. It is meant to
// be passed as a MembershipCallback to ConsistentHashAssigner.OnMembershipChange.
func (m *Manager) Reconcile(ctx context.Context, owned map[int]bool) {
	m.mu.Lock()
	var toAcquire, toRelease []int
	for p := range owned {
		if _, ok := m.running[p]; !ok {
			toAcquire = append(toAcquire, p)
		}
	}
	for p := range m.running {
		if !owned[p] {
			toRelease = append(toRelease, p)
		}
	}
	m.mu.Unlock()

	for _, p := range toRelease {
		m.Release(ctx, p)
	}
	for _, p := range toAcquire {
		if err := m.Acquire(ctx, p); err != nil {
			logging.Op().Error("partmgr: acquire failed", "partition", p, "error", err)
		}
	}
}

// Acquire runs the start sequence of spec.md §4.5: clear the stale sub-tree
// if the epoch compare-and-swap demands it, start a Partition Consumer, and
// record the new acquisition epoch.
func (m *Manager) Acquire(ctx context.Context, p int) error {
	m.mu.Lock()
	if _, already := m.running[p]; already {
		m.mu.Unlock()
		return nil
	}
	prevEpoch := m.epochs[p]
	m.mu.Unlock()

	newEpoch := time.Now().UnixMicro()
	wipeRequired, err := m.store.AcquireEpoch(ctx, p, prevEpoch, newEpoch)
	if err != nil {
		return err
	}
	if wipeRequired {
		if err := m.store.ClearPartition(ctx, p); err != nil {
			return err
		}
		logging.Op().Info("partmgr: wiped stale partition sub-tree", "partition", p)
	}

	busConsumer, err := m.busFactory(p)
	if err != nil {
		return err
	}

	consumer := partition.NewConsumer(p, busConsumer, newEpoch)
	runCtx, cancel := context.WithCancel(ctx)
	go consumer.Run(runCtx)

	m.mu.Lock()
	m.running[p] = &ownedPartition{consumer: consumer, bus: busConsumer, cancel: cancel}
	m.epochs[p] = newEpoch
	owned := len(m.running)
	m.mu.Unlock()

	metrics.SetOwnedPartitions(owned)
	logging.Op().Info("partmgr: acquired partition", "partition", p, "epoch", newEpoch)
	return nil
}

// Release runs the stop sequence of spec.md §4.5: signal the consumer to
// stop, join with a bounded timeout, run the aggregator cleanup hook, and
// remove the partition's epoch entry.
func (m *Manager) Release(ctx context.Context, p int) {
	m.mu.Lock()
	rp, ok := m.running[p]
	if ok {
		delete(m.running, p)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	rp.consumer.Stop()
	rp.cancel()

	select {
	case <-rp.consumer.Done():
	case <-time.After(releaseJoinTimeout):
		logging.Op().Warn("partmgr: partition consumer join timed out", "partition", p)
	}

	if err := rp.bus.Close(); err != nil {
		logging.Op().Warn("partmgr: bus close error", "partition", p, "error", err)
	}

	if m.cleanup != nil {
		m.cleanup(p)
	}

	if err := m.store.RemoveEpoch(ctx, p); err != nil {
		logging.Op().Warn("partmgr: remove epoch error", "partition", p, "error", err)
	}

	m.mu.Lock()
	owned := len(m.running)
	m.mu.Unlock()
	metrics.SetOwnedPartitions(owned)
	logging.Op().Info("partmgr: released partition", "partition", p)
}

// Status returns a snapshot of every currently owned partition's consumer
// health, for the PartitionStatus admin contract (SPEC_FULL.md §10).
func (m *Manager) Status() map[int]partition.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]partition.Status, len(m.running))
	for p, rp := range m.running {
		out[p] = rp.consumer.Status()
	}
	return out
}

// Consumer returns the running Partition Consumer for p, or nil if not owned.
func (m *Manager) Consumer(p int) *partition.Consumer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rp, ok := m.running[p]; ok {
		return rp.consumer
	}
	return nil
}

// Epoch returns the acquisition epoch for a currently owned partition.
func (m *Manager) Epoch(p int) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[p]; !ok {
		return 0, false
	}
	epoch, ok := m.epochs[p]
	return epoch, ok
}
