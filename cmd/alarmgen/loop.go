package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/oriys/alarmgen/internal/aggregator"
	"github.com/oriys/alarmgen/internal/alarm"
	"github.com/oriys/alarmgen/internal/bus"
	"github.com/oriys/alarmgen/internal/configfeed"
	"github.com/oriys/alarmgen/internal/logging"
	"github.com/oriys/alarmgen/internal/partmgr"
	"github.com/oriys/alarmgen/internal/store"
)

const membershipTTL = 15 * time.Second

// healthCheckTopic is the sentinel topic the health probe produces to, per
// alarmgen.py's run_kafka_liveness_check.
const healthCheckTopic = "HEALTH_CHECK_TOPIC"

// healthCheckAckTimeout bounds how long the probe waits for a flush ack
// before treating the bus as unreachable, per spec.md §5.
const healthCheckAckTimeout = 20 * time.Second

// runHealthProbe periodically produces a sentinel message to the bus and
// requires a flush ack within healthCheckAckTimeout; on failure to produce,
// ack, or connect at all it exits the process for supervisor restart, per
// spec.md §5 and alarmgen.py's run_kafka_liveness_check keep-alive.
func runHealthProbe(ctx context.Context, brokers []string, firstInterval, interval time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(firstInterval):
	}

	producer, err := bus.NewKafkaProducer(brokers)
	if err != nil {
		logging.Op().Error("daemon: health-check producer init failed, exiting for restart", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	logging.Op().Info("daemon: health-check producer initialized")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := producer.SendAndFlush(ctx, healthCheckTopic, []byte("live.."), healthCheckAckTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.Op().Error("daemon: health-check cannot reach bus, exiting for restart", "error", err)
				os.Exit(1)
			}
			logging.Op().Info("daemon: health-check msg acked by bus")
		}
	}
}

// runMembershipWatcher heartbeats this member's liveness into the cluster's
// membership set and refreshes the consistent-hash assigner's member list
// whenever the store announces a change, per SPEC_FULL.md §16.
func runMembershipWatcher(ctx context.Context, storeClient *store.Client, assigner *partmgr.ConsistentHashAssigner, cluster, member string) {
	refresh := func() {
		members, err := storeClient.Members(ctx, cluster)
		if err != nil {
			logging.Op().Warn("daemon: membership refresh failed", "error", err)
			return
		}
		if len(members) == 0 {
			members = []string{member}
		}
		assigner.UpdateMembers(members)
	}

	if err := storeClient.Heartbeat(ctx, cluster, member, membershipTTL); err != nil {
		logging.Op().Warn("daemon: initial heartbeat failed", "error", err)
	}
	refresh()

	sub := storeClient.WatchMembers(ctx, cluster)
	defer sub.Close()
	changes := sub.Channel()

	heartbeat := time.NewTicker(membershipTTL / 3)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := storeClient.Heartbeat(ctx, cluster, member, membershipTTL); err != nil {
				logging.Op().Warn("daemon: heartbeat failed", "error", err)
			}
		case <-changes:
			refresh()
		}
	}
}

// waitGroup runs cooperative background tasks bound to a shared context and
// joins them on shutdown, mirroring spec.md §6's "one long-lived task per
// role" scheduling model.
type waitGroup struct {
	wg sync.WaitGroup
}

func (w *waitGroup) goCtx(ctx context.Context, fn func(ctx context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn(ctx)
	}()
}

func (w *waitGroup) wait() { w.wg.Wait() }

// runAggregationLoop ticks the UVE aggregator's drain cycle once per second
// for every partition currently owned by mgr, per spec.md §4.2.
func runAggregationLoop(ctx context.Context, mgr *partmgr.Manager, cycle *aggregator.Cycle) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().Unix()
			for p, status := range mgr.Status() {
				if !status.Up {
					continue
				}
				cons := mgr.Consumer(p)
				if cons == nil {
					continue
				}
				epochUs, ok := mgr.Epoch(p)
				if !ok {
					continue
				}
				if err := cycle.Run(ctx, p, cons, epochUs, now); err != nil {
					logging.Op().Error("daemon: aggregation cycle failed", "partition", p, "error", err)
				}
			}
		}
	}
}

// runTimerScanner drains the alarm engine's soak/delete timers once per
// second, per spec.md §4.4.
func runTimerScanner(ctx context.Context, engine *alarm.Engine) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.RunTimers(time.Now().Unix())
		}
	}
}

// runConfigFeed polls the rule-source endpoint and applies coalesced
// config deltas once per tick, per spec.md §4.7. A disabled endpoint
// (empty string) idles the task without error.
func runConfigFeed(ctx context.Context, feed *configfeed.Adapter, endpoint string) {
	if endpoint == "" {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			feed.Poll(ctx)
			feed.ApplyPending(time.Now().Unix())
		}
	}
}
