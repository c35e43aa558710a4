package alarm

import (
	"encoding/json"
	"sync"

	"github.com/oriys/alarmgen/internal/logging"
	"github.com/oriys/alarmgen/internal/metrics"
	"github.com/oriys/alarmgen/internal/uve"
)

// Info is the UVEAlarmInfo published downstream (spec.md §4.3 "Output"):
// one asserted alarm's rule matches plus its soak configuration.
type Info struct {
	Type              string   `json:"type"`
	Severity          int      `json:"severity"`
	Rules             [][]Match `json:"rules"`
	Description       string   `json:"description"`
	Ack               bool     `json:"ack"`
	Timestamp         int64    `json:"timestamp"`
	ActiveTimer       int      `json:"active_timer"`
	IdleTimer         int      `json:"idle_timer"`
	FreqCheckTimes    int      `json:"freq_check_times"`
	FreqCheckSeconds  int      `json:"freq_check_seconds"`
	FreqExceededCheck bool     `json:"freq_exceeded_check"`
}

// NotifyFunc publishes an alarm's current Info (non-nil) or its removal
// (nil) for (table, key, name). Engine calls this on every state change
// that the state machine's side effects require to reach downstream
// consumers.
type NotifyFunc func(table, key, name string, info *Info)

// Engine owns every alarm config and live Record, and drives both the
// evaluator and the state machine's timer scanner, grounded on
// AlarmStateMachine in original_source/contrail-opserver/alarmgen.py.
type Engine struct {
	mu        sync.Mutex
	byTable   map[string][]*Config
	byFullKey map[string][]*Config

	records map[recordKey]*Record
	timers  *timerIndex
	notify  NotifyFunc
}

// NewEngine constructs an empty alarm engine.
func NewEngine(notify NotifyFunc) *Engine {
	return &Engine{
		byTable:   make(map[string][]*Config),
		byFullKey: make(map[string][]*Config),
		records:   make(map[recordKey]*Record),
		timers:    newTimerIndex(),
		notify:    notify,
	}
}

// LoadConfig registers or replaces an alarm config, applying to every key
// under cfg.Table (or the single full key, if cfg.Table contains ':').
func (e *Engine) LoadConfig(cfg *Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.unregisterLocked(cfg.Name)
	if isFullKey(cfg.Table) {
		e.byFullKey[cfg.Table] = append(e.byFullKey[cfg.Table], cfg)
	} else {
		e.byTable[cfg.Table] = append(e.byTable[cfg.Table], cfg)
	}
}

func (e *Engine) unregisterLocked(name string) {
	for t, cfgs := range e.byTable {
		e.byTable[t] = removeByName(cfgs, name)
	}
	for k, cfgs := range e.byFullKey {
		e.byFullKey[k] = removeByName(cfgs, name)
	}
}

func removeByName(cfgs []*Config, name string) []*Config {
	out := cfgs[:0]
	for _, c := range cfgs {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}

func isFullKey(table string) bool {
	for _, r := range table {
		if r == ':' {
			return true
		}
	}
	return false
}

// AllConfigs returns every registered alarm config, for the
// AlarmConfigRequest admin contract.
func (e *Engine) AllConfigs() []*Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Config
	for _, cfgs := range e.byTable {
		out = append(out, cfgs...)
	}
	for _, cfgs := range e.byFullKey {
		out = append(out, cfgs...)
	}
	return out
}

// configsFor returns every config applicable to key = "table:name".
func (e *Engine) configsFor(table, key string) []*Config {
	var out []*Config
	out = append(out, e.byTable[table]...)
	out = append(out, e.byFullKey[key]...)
	return out
}

// Evaluate runs every config applicable to (table, key) against view and
// drives the state machine, calling notify for each alarm whose downstream
// state changed. now is the current epoch second.
func (e *Engine) Evaluate(table, key string, view *uve.Value, now int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cfg := range e.configsFor(table, key) {
		if !e.scopeMatches(cfg, view) {
			continue
		}
		rules := Evaluate(cfg, key, view)
		e.apply(table, key, cfg, rules, now)
	}
}

// scopeMatches implements the parent_type == "project" scoping rule
// (spec.md §4.3 "Rule selection"): the entity's parent fq-name, derived
// from interface_list[0] for virtual-machine UVEs, must match the filter.
func (e *Engine) scopeMatches(cfg *Config, view *uve.Value) bool {
	if cfg.ParentType != "project" || cfg.ParentFQNameFilter == "" {
		return true
	}
	r := uve.WalkPath(view, "interface_list.0.fq_name")
	if !r.Found || len(r.Values) == 0 {
		return false
	}
	return r.Values[0].Canonical() == cfg.ParentFQNameFilter
}

func (e *Engine) apply(table, key string, cfg *Config, rules [][]Match, now int64) {
	id := recordKey{table: table, key: key, name: cfg.Name}
	rec, exists := e.records[id]
	asserted := len(rules) > 0

	if !exists {
		if !asserted {
			return
		}
		rec = &Record{Table: table, Key: key, Name: cfg.Name, State: Idle, Cfg: cfg}
		e.records[id] = rec
	}
	rec.Cfg = cfg

	if asserted && semanticallyEqual(rec.Rules, rules) && rec.State != Idle {
		return // suppress timestamp churn, per spec.md §4.4
	}

	oldState := rec.State
	if asserted {
		rec.assert(now, e.timers, id)
		rec.Rules = rules
		rec.Timestamp = now
	} else {
		destroy := rec.clear(now, e.timers, id)
		rec.Rules = nil
		if destroy {
			delete(e.records, id)
			e.notifyLocked(table, key, cfg.Name, nil)
			metrics.SetAlarmActiveCount(e.activeCountLocked())
			return
		}
	}

	if rec.State != oldState {
		e.publishLocked(rec)
	}
}

// semanticallyEqual compares two OR-lists for structural equality by deep
// JSON comparison of every Match. No relaxation is applied for
// ordered-comparison operators: Match carries no operator, so any change in
// a recorded operand value counts as a difference.
func semanticallyEqual(old, new [][]Match) bool {
	if len(old) != len(new) {
		return false
	}
	for i := range old {
		if len(old[i]) != len(new[i]) {
			return false
		}
		for j := range old[i] {
			a, _ := json.Marshal(old[i][j])
			b, _ := json.Marshal(new[i][j])
			if string(a) != string(b) {
				return false
			}
		}
	}
	return true
}

func (e *Engine) publishLocked(rec *Record) {
	logging.Op().Info("alarm: state change", "table", rec.Table, "key", rec.Key, "alarm", rec.Name, "state", rec.State.String())
	if rec.State == Active || rec.State == SoakIdle {
		e.notifyLocked(rec.Table, rec.Key, rec.Name, rec.toInfo())
	}
	metrics.RecordAlarmTransition(rec.State.String())
	metrics.SetAlarmActiveCount(e.activeCountLocked())
}

func (e *Engine) notifyLocked(table, key, name string, info *Info) {
	if e.notify != nil {
		e.notify(table, key, name, info)
	}
}

// activeCountLocked counts the records in Active or Soak_Idle state.
func (e *Engine) activeCountLocked() int {
	n := 0
	for _, rec := range e.records {
		if rec.State == Active || rec.State == SoakIdle {
			n++
		}
	}
	return n
}

func (r *Record) toInfo() *Info {
	return &Info{
		Type:              r.Name,
		Severity:          r.Cfg.Severity,
		Rules:             r.Rules,
		Description:       r.Cfg.Description,
		Ack:               r.Ack,
		Timestamp:         r.Timestamp,
		ActiveTimer:       r.Cfg.ActiveTimer,
		IdleTimer:         r.Cfg.IdleTimer,
		FreqCheckTimes:    r.Cfg.FreqCheckTimes,
		FreqCheckSeconds:  r.Cfg.FreqCheckSeconds,
		FreqExceededCheck: r.Cfg.FreqExceededCheck,
	}
}

// RunTimers drains every due timer, applying the active/idle/delete timeout
// side effects of spec.md §4.4's "timer fires" rows. Meant to be invoked
// once per tick by the single cooperative scanner goroutine.
func (e *Engine) RunTimers(now int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.timers.due(now) {
		rec, ok := e.records[id]
		if !ok {
			continue
		}
		switch rec.State {
		case SoakActive:
			rec.fireActiveTimer()
			e.publishLocked(rec)
		case SoakIdle:
			destroy := rec.fireIdleTimer(now, e.timers, id)
			if destroy {
				delete(e.records, id)
				e.notifyLocked(rec.Table, rec.Key, rec.Name, nil)
				metrics.SetAlarmActiveCount(e.activeCountLocked())
			} else {
				e.publishLocked(rec)
			}
		case Idle:
			// deleteTimeout fired: destroy the record entirely.
			delete(e.records, id)
			e.notifyLocked(rec.Table, rec.Key, rec.Name, nil)
			metrics.SetAlarmActiveCount(e.activeCountLocked())
		}
	}
}

// Record returns a snapshot of the live record for (table, key, name), or
// nil if none exists.
func (e *Engine) Record(table, key, name string) *Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[recordKey{table: table, key: key, name: name}]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// TableAlarms returns every live alarm record for a table, for the
// UVETableAlarm admin contract.
func (e *Engine) TableAlarms(table string) []*Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Record
	for id, rec := range e.records {
		if id.table == table {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

// AllAlarms returns every live alarm record across every table, for the
// UVETableAlarm admin contract's "all" form.
func (e *Engine) AllAlarms() []*Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Record, 0, len(e.records))
	for _, rec := range e.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// ToInfo builds the downstream UVEAlarmInfo for a live record, for the
// UVETableAlarm admin contract.
func (r *Record) ToInfo() *Info {
	return r.toInfo()
}
