package aggregator

import "sync"

// emaAlpha weights the most recent sample against the running average.
// Chosen to react within a handful of cycles without being noisy on a
// single outlier (spec.md §9: "best-effort gauges, not exact counts").
const emaAlpha = 0.3

// PerfStat is one moving-average counter: a call/get/pub duration or an
// update-count rate, grounded on alarmgen.py's ProcessStat.
type PerfStat struct {
	mu      sync.Mutex
	avgMs   float64
	samples int
}

// Observe folds one new sample (milliseconds, or a raw count for
// update-rate stats) into the exponential moving average.
func (p *PerfStat) Observe(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.samples == 0 {
		p.avgMs = v
	} else {
		p.avgMs = emaAlpha*v + (1-emaAlpha)*p.avgMs
	}
	p.samples++
}

// Value returns the current moving average.
func (p *PerfStat) Value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.avgMs
}

// TablePerf is the UVETablePerf counter set for one table (spec.md §6):
// moving averages of aggregator call time, store get time, store publish
// time, and the per-cycle update count.
type TablePerf struct {
	CallTime    PerfStat
	GetTime     PerfStat
	PubTime     PerfStat
	UpdateCount PerfStat
}

// PerfTracker owns one TablePerf per table, created lazily.
type PerfTracker struct {
	mu     sync.Mutex
	tables map[string]*TablePerf
}

// NewPerfTracker creates an empty per-table performance tracker.
func NewPerfTracker() *PerfTracker {
	return &PerfTracker{tables: make(map[string]*TablePerf)}
}

// Table returns (creating if needed) the TablePerf for a table name.
func (t *PerfTracker) Table(table string) *TablePerf {
	t.mu.Lock()
	defer t.mu.Unlock()
	tp, ok := t.tables[table]
	if !ok {
		tp = &TablePerf{}
		t.tables[table] = tp
	}
	return tp
}

// Snapshot returns every table's current moving averages, for the
// UVETablePerf admin contract.
func (t *PerfTracker) Snapshot() map[string]TablePerfSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]TablePerfSnapshot, len(t.tables))
	for name, tp := range t.tables {
		out[name] = TablePerfSnapshot{
			CallTimeMs:  tp.CallTime.Value(),
			GetTimeMs:   tp.GetTime.Value(),
			PubTimeMs:   tp.PubTime.Value(),
			UpdateCount: tp.UpdateCount.Value(),
		}
	}
	return out
}

// TablePerfSnapshot is a point-in-time read of one table's moving averages.
type TablePerfSnapshot struct {
	CallTimeMs  float64 `json:"call_time_ms"`
	GetTimeMs   float64 `json:"get_time_ms"`
	PubTimeMs   float64 `json:"pub_time_ms"`
	UpdateCount float64 `json:"update_count"`
}
