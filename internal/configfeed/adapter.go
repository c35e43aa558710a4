// Package configfeed implements the Config Feed Adapter (spec.md §4.7): it
// polls the rule-source endpoint for alarm-config deltas, coalesces them
// between evaluation cycles, and re-evaluates every owned-partition key of
// a changed table against the alarm engine.
package configfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/oriys/alarmgen/internal/alarm"
	"github.com/oriys/alarmgen/internal/logging"
	"github.com/oriys/alarmgen/internal/uve"
)

// wireCondition mirrors one JSON-encoded rule condition from the
// rule-source endpoint.
type wireCondition struct {
	Op        string          `json:"op"`
	Operand1  string          `json:"operand1"`
	Operand2  json.RawMessage `json:"operand2"`
	Variables []string        `json:"variables"`
}

// wireConfig mirrors one JSON-encoded alarm config.
type wireConfig struct {
	Name               string            `json:"name"`
	Table              string            `json:"table"`
	Severity           int               `json:"severity"`
	Description        string            `json:"description"`
	ParentType         string            `json:"parent_type"`
	ParentFQNameFilter string            `json:"parent_fq_name_filter"`
	Rules              [][]wireCondition `json:"rules"`
	ActiveTimer        int               `json:"active_timer"`
	IdleTimer          int               `json:"idle_timer"`
	FreqCheckTimes     int               `json:"freq_check_times"`
	FreqCheckSeconds   int               `json:"freq_check_seconds"`
	FreqExceededCheck  bool              `json:"freq_exceeded_check"`
}

// delta is the feed's wire shape: {table -> {alarm_fqname -> config}}.
type delta map[string]map[string]wireConfig

// KeyLister resolves the set of UVE keys currently owned for a table, so
// the adapter can re-evaluate them when that table's config changes.
type KeyLister func(table string) []uve.Key

// Evaluator is the subset of alarm.Engine the adapter drives.
type Evaluator interface {
	LoadConfig(cfg *alarm.Config)
	Evaluate(table, key string, view *uve.Value, now int64)
}

// ViewLookup resolves the current aggregated view for a key, for
// re-evaluation after a config change.
type ViewLookup func(key uve.Key) (*uve.Value, bool)

// Adapter polls the rule-source endpoint and applies config deltas to the
// alarm engine, coalescing between poll cycles (spec.md §4.7).
type Adapter struct {
	endpoint string
	client   *http.Client
	engine   Evaluator
	keys     KeyLister
	view     ViewLookup

	mu      sync.Mutex
	pending delta
}

// NewAdapter constructs a Config Feed Adapter. endpoint is polled via HTTP
// GET for the full current config snapshot; keys/view let the adapter
// re-evaluate affected partitions after a change.
func NewAdapter(endpoint string, engine Evaluator, keys KeyLister, view ViewLookup) *Adapter {
	return &Adapter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		engine:   engine,
		keys:     keys,
		view:     view,
		pending:  make(delta),
	}
}

// Poll fetches the current config snapshot and stages it for the next
// ApplyPending call, coalescing with anything already staged. Errors are
// logged; the previously staged/applied config continues in force.
func (a *Adapter) Poll(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint, nil)
	if err != nil {
		logging.Op().Warn("configfeed: build request failed", "error", err)
		return
	}
	resp, err := a.client.Do(req)
	if err != nil {
		logging.Op().Warn("configfeed: poll failed", "endpoint", a.endpoint, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logging.Op().Warn("configfeed: poll non-200", "status", resp.StatusCode)
		return
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logging.Op().Warn("configfeed: read body failed", "error", err)
		return
	}

	var d delta
	if err := json.Unmarshal(body, &d); err != nil {
		logging.Op().Warn("configfeed: decode failed, keeping previous config", "error", err)
		return
	}

	a.mu.Lock()
	for table, alarms := range d {
		if a.pending[table] == nil {
			a.pending[table] = make(map[string]wireConfig)
		}
		for name, cfg := range alarms {
			a.pending[table][name] = cfg
		}
	}
	a.mu.Unlock()
}

// ApplyPending loads every staged config change into the engine and
// re-evaluates every owned key of every changed table (spec.md §4.7 "On
// each cycle ... iterates all keys in that table and invokes the
// evaluator"). now is the current epoch second.
func (a *Adapter) ApplyPending(now int64) {
	a.mu.Lock()
	staged := a.pending
	a.pending = make(delta)
	a.mu.Unlock()

	for table, alarms := range staged {
		for name, wc := range alarms {
			cfg, err := toConfig(table, name, wc)
			if err != nil {
				logging.Op().Warn("configfeed: bad config, previous config stays in force", "table", table, "alarm", name, "error", err)
				continue
			}
			a.engine.LoadConfig(cfg)
		}
		a.reevaluateTable(table, now)
	}
}

func (a *Adapter) reevaluateTable(table string, now int64) {
	if a.keys == nil || a.view == nil {
		return
	}
	for _, key := range a.keys(table) {
		view, ok := a.view(key)
		if !ok {
			continue
		}
		a.engine.Evaluate(table, string(key), view, now)
	}
}

func toConfig(table, name string, wc wireConfig) (*alarm.Config, error) {
	if wc.Table == "" {
		wc.Table = table
	}
	rules := make(alarm.Rules, 0, len(wc.Rules))
	for _, and := range wc.Rules {
		list := make(alarm.AndList, 0, len(and))
		for _, c := range and {
			operand2, err := toOperand(c.Operand2)
			if err != nil {
				return nil, fmt.Errorf("configfeed: alarm %s: %w", name, err)
			}
			list = append(list, alarm.Condition{
				Op:        alarm.Op(c.Op),
				Operand1:  alarm.PathOperand(c.Operand1),
				Operand2:  operand2,
				Variables: c.Variables,
			})
		}
		rules = append(rules, list)
	}

	return &alarm.Config{
		Name:               name,
		Table:              wc.Table,
		Severity:           wc.Severity,
		Description:        wc.Description,
		ParentType:         wc.ParentType,
		ParentFQNameFilter: wc.ParentFQNameFilter,
		Rules:              rules,
		ActiveTimer:        wc.ActiveTimer,
		IdleTimer:          wc.IdleTimer,
		FreqCheckTimes:     wc.FreqCheckTimes,
		FreqCheckSeconds:   wc.FreqCheckSeconds,
		FreqExceededCheck:  wc.FreqExceededCheck,
	}, nil
}

// toOperand decodes a wire operand2: a JSON string starting with "$" is a
// UVE path reference, anything else is a literal value.
func toOperand(raw json.RawMessage) (alarm.Operand, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return alarm.LiteralOperand(uve.Null), nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if len(asString) > 0 && asString[0] == '$' {
			return alarm.PathOperand(asString[1:]), nil
		}
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return alarm.Operand{}, fmt.Errorf("decode operand2: %w", err)
	}
	return alarm.LiteralOperand(literalFromJSON(generic)), nil
}

func literalFromJSON(v any) *uve.Value {
	switch t := v.(type) {
	case nil:
		return uve.Null
	case []any:
		elems := make([]*uve.Value, len(t))
		for i, e := range t {
			elems[i] = literalFromJSON(e)
		}
		return uve.NewList(elems)
	case map[string]any:
		fields := make(map[string]*uve.Value, len(t))
		for k, e := range t {
			fields[k] = literalFromJSON(e)
		}
		return uve.NewObject(fields)
	default:
		return uve.NewScalar(t)
	}
}
