// Package admin implements the admin/introspection surface (spec.md §6,
// SPEC_FULL.md §10): the seven request/response contracts exposed over a
// plain net/http JSON mux, plus a gRPC server hosting the standard health
// service, grounded on internal/gateway/gateway.go and
// internal/grpc/server.go (oriys/nova).
package admin

import (
	"github.com/oriys/alarmgen/internal/aggregator"
	"github.com/oriys/alarmgen/internal/alarm"
	"github.com/oriys/alarmgen/internal/partition"
	"github.com/oriys/alarmgen/internal/uve"
)

// PartitionOwnershipResponse answers PartitionOwnership(partition, acquire?):
// the ownership status of one partition, or of every partition this instance
// currently owns when none was named (spec.md §6).
type PartitionOwnershipResponse struct {
	InstanceID string                 `json:"instance_id"`
	Partitions []PartitionOwnedEntry `json:"partitions"`
}

// PartitionOwnedEntry reports whether this instance owns one partition, and
// whether an Acquire was just forced for it.
type PartitionOwnedEntry struct {
	Partition int  `json:"partition"`
	Owned     bool `json:"owned"`
	Acquired  bool `json:"acquired,omitempty"`
}

// CollectorGeneratorCount is one (collector, generator) pair's contributed
// UVE key count, part of PartitionStatus's "per-collector/generator UVE
// counters" (spec.md §6).
type CollectorGeneratorCount struct {
	Collector string `json:"collector"`
	Generator string `json:"generator"`
	UVECount  int    `json:"uve_count"`
}

// PartitionStatusEntry is one partition's consumer health.
type PartitionStatusEntry struct {
	Partition                int                       `json:"partition"`
	Enabled                  bool                      `json:"enabled"`
	Offset                   int64                     `json:"offset"`
	CollectorGeneratorCounts []CollectorGeneratorCount `json:"collector_generator_counts"`
}

// PartitionStatusResponse answers PartitionStatus(partition = -1 for all).
type PartitionStatusResponse struct {
	Partitions []PartitionStatusEntry `json:"partitions"`
}

func entryFromStatus(p int, s partition.Status) PartitionStatusEntry {
	counts := make([]CollectorGeneratorCount, 0, len(s.CollectorGeneratorCounts))
	for coll, gens := range s.CollectorGeneratorCounts {
		for gen, n := range gens {
			counts = append(counts, CollectorGeneratorCount{
				Collector: string(coll),
				Generator: string(gen),
				UVECount:  n,
			})
		}
	}
	return PartitionStatusEntry{
		Partition:                p,
		Enabled:                  s.Up,
		Offset:                   s.LastOffset,
		CollectorGeneratorCounts: counts,
	}
}

func entriesFromStatus(m map[int]partition.Status) []PartitionStatusEntry {
	out := make([]PartitionStatusEntry, 0, len(m))
	for p, s := range m {
		out = append(out, entryFromStatus(p, s))
	}
	return out
}

// UVEAlarmRecord is one live alarm record surfaced by UVETableAlarm.
type UVEAlarmRecord struct {
	Key   string      `json:"key"`
	Alarm string      `json:"alarm"`
	State string      `json:"state"`
	Info  *alarm.Info `json:"info,omitempty"`
}

// UVETableAlarmResponse answers UVETableAlarm(table).
type UVETableAlarmResponse struct {
	Table  string           `json:"table"`
	Alarms []UVEAlarmRecord `json:"alarms"`
}

// UVEKeyInfo is one UVE key's per-type serialized content, for
// UVETableInfo(partition)'s "per-table list of UVEs with per-type serialized
// content" (spec.md §6).
type UVEKeyInfo struct {
	Key   string                 `json:"key"`
	Types map[string]*uve.Value `json:"types"`
}

// UVETableInfoResponse answers UVETableInfo(partition): every UVE key
// tracked in that partition, grouped by table.
type UVETableInfoResponse struct {
	Partition int                     `json:"partition"`
	Tables    map[string][]UVEKeyInfo `json:"tables"`
}

// UVETablePerfResponse answers UVETablePerf(table).
type UVETablePerfResponse struct {
	Table string                         `json:"table"`
	Stats aggregator.TablePerfSnapshot `json:"stats"`
}

// AlarmConfigEntry describes one registered alarm config.
type AlarmConfigEntry struct {
	Name              string `json:"name"`
	Table             string `json:"table"`
	Severity          int    `json:"severity"`
	Description       string `json:"description"`
	ActiveTimer       int    `json:"active_timer"`
	IdleTimer         int    `json:"idle_timer"`
	FreqCheckTimes    int    `json:"freq_check_times"`
	FreqCheckSeconds  int    `json:"freq_check_seconds"`
	FreqExceededCheck bool   `json:"freq_exceeded_check"`
}

// AlarmConfigResponse answers AlarmConfigRequest(name?).
type AlarmConfigResponse struct {
	Configs []AlarmConfigEntry `json:"configs"`
}

// AlarmAckRequest is the body of an AlarmAck POST.
type AlarmAckRequest struct {
	Table     string `json:"table"`
	Key       string `json:"key"`
	AlarmType string `json:"alarm_type"`
	Timestamp int64  `json:"timestamp"`
}

// AlarmAckResponse reports the ack outcome.
type AlarmAckResponse struct {
	Result string `json:"result"`
}
