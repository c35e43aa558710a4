package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/oriys/alarmgen/internal/aggregator"
	"github.com/oriys/alarmgen/internal/alarm"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func tableParam(r *http.Request) string {
	return r.URL.Query().Get("table")
}

// partitionParam parses the "partition" query parameter. ok is false when
// it is absent or malformed.
func partitionParam(r *http.Request) (p int, ok bool) {
	raw := r.URL.Query().Get("partition")
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// handlePartitionOwnership answers PartitionOwnership(partition, acquire?)
// (spec.md §6): the ownership status of one partition, optionally forcing
// an Acquire first, or of every partition this instance currently owns when
// none was named.
func (s *Server) handlePartitionOwnership(w http.ResponseWriter, r *http.Request) {
	status := s.Manager.Status()

	p, hasPartition := partitionParam(r)
	if !hasPartition {
		partitions := make([]PartitionOwnedEntry, 0, len(status))
		for owned := range status {
			partitions = append(partitions, PartitionOwnedEntry{Partition: owned, Owned: true})
		}
		writeJSON(w, PartitionOwnershipResponse{InstanceID: s.InstanceID, Partitions: partitions})
		return
	}

	_, owned := status[p]
	acquired := false
	if r.URL.Query().Get("acquire") == "true" && !owned {
		if err := s.Manager.Acquire(r.Context(), p); err != nil {
			http.Error(w, "acquire failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		owned = true
		acquired = true
	}
	writeJSON(w, PartitionOwnershipResponse{
		InstanceID: s.InstanceID,
		Partitions: []PartitionOwnedEntry{{Partition: p, Owned: owned, Acquired: acquired}},
	})
}

// handlePartitionStatus answers PartitionStatus(partition = -1 for all)
// (spec.md §6): consumer health and per-collector/generator UVE counters for
// one owned partition, or every owned partition when partition is -1 or
// absent.
func (s *Server) handlePartitionStatus(w http.ResponseWriter, r *http.Request) {
	p, hasPartition := partitionParam(r)
	if !hasPartition || p == -1 {
		writeJSON(w, PartitionStatusResponse{Partitions: entriesFromStatus(s.Manager.Status())})
		return
	}

	status, ok := s.Manager.Status()[p]
	if !ok {
		writeJSON(w, PartitionStatusResponse{Partitions: nil})
		return
	}
	writeJSON(w, PartitionStatusResponse{Partitions: []PartitionStatusEntry{entryFromStatus(p, status)}})
}

// handleUVETableAlarm answers UVETableAlarm(table = "all" or a specific
// table): the live alarm records for that table, or every table.
func (s *Server) handleUVETableAlarm(w http.ResponseWriter, r *http.Request) {
	table := tableParam(r)
	var records []*alarm.Record
	if table == "" || table == "all" {
		records = s.Alarms.AllAlarms()
	} else {
		records = s.Alarms.TableAlarms(table)
	}

	out := make([]UVEAlarmRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, UVEAlarmRecord{Key: rec.Key, Alarm: rec.Name, State: rec.State.String(), Info: rec.ToInfo()})
	}
	writeJSON(w, UVETableAlarmResponse{Table: table, Alarms: out})
}

// handleUVETableInfo answers UVETableInfo(partition) (spec.md §6): every UVE
// key tracked in that partition, grouped by table, with each key's per-type
// serialized content.
func (s *Server) handleUVETableInfo(w http.ResponseWriter, r *http.Request) {
	p, ok := partitionParam(r)
	if !ok {
		http.Error(w, "partition query parameter required", http.StatusBadRequest)
		return
	}

	tables := make(map[string][]UVEKeyInfo)
	if cons := s.Manager.Consumer(p); cons != nil {
		for _, k := range cons.Index.Keys() {
			ks := cons.Index.Get(k)
			if ks == nil {
				continue
			}
			obj := aggregator.ObjectOfKeyState(ks)
			table := k.Table()
			tables[table] = append(tables[table], UVEKeyInfo{Key: string(k), Types: obj.Object})
		}
	}
	writeJSON(w, UVETableInfoResponse{Partition: p, Tables: tables})
}

// handleUVETablePerf answers UVETablePerf(table): the moving-average
// performance counters for that table (SPEC_FULL.md §17).
func (s *Server) handleUVETablePerf(w http.ResponseWriter, r *http.Request) {
	table := tableParam(r)
	writeJSON(w, UVETablePerfResponse{Table: table, Stats: s.Cycle.Perf.Snapshot()[table]})
}

// handleAlarmConfig answers AlarmConfigRequest(name?): every registered
// alarm config, or one matching a name filter.
func (s *Server) handleAlarmConfig(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	var out []AlarmConfigEntry
	for _, cfg := range s.Alarms.AllConfigs() {
		if name != "" && cfg.Name != name {
			continue
		}
		out = append(out, AlarmConfigEntry{
			Name:              cfg.Name,
			Table:             cfg.Table,
			Severity:          cfg.Severity,
			Description:       cfg.Description,
			ActiveTimer:       cfg.ActiveTimer,
			IdleTimer:         cfg.IdleTimer,
			FreqCheckTimes:    cfg.FreqCheckTimes,
			FreqCheckSeconds:  cfg.FreqCheckSeconds,
			FreqExceededCheck: cfg.FreqExceededCheck,
		})
	}
	writeJSON(w, AlarmConfigResponse{Configs: out})
}

// handleAlarmAck answers AlarmAck(table, name, type, timestamp): applies an
// external acknowledgement request.
func (s *Server) handleAlarmAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req AlarmAckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	result := s.Alarms.Ack(req.Table, req.Key, req.AlarmType, req.Timestamp)
	writeJSON(w, AlarmAckResponse{Result: string(result)})
}
