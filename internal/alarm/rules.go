// Package alarm implements the Alarm Evaluator and Alarm State Machine
// (spec.md §4.3, §4.4): a rule-tree expression evaluator over the UVE value
// tree, and a per-(table, key, alarm) hysteresis FSM with soak timers and
// frequency-exceeded detection, grounded on the original alarmgen.py state
// machine (original_source/contrail-opserver/alarmgen.py).
package alarm

import "github.com/oriys/alarmgen/internal/uve"

// Op is a condition operator (spec.md §2 "Alarm Config").
type Op string

const (
	OpEQ        Op = "=="
	OpNE        Op = "!="
	OpLT        Op = "<"
	OpLE        Op = "<="
	OpGT        Op = ">"
	OpGE        Op = ">="
	OpIn        Op = "in"
	OpNotIn     Op = "not in"
	OpRange     Op = "range"
	OpSizeEQ    Op = "size=="
	OpSizeNE    Op = "size!="
)

// Operand is either a UVE path to resolve (Path != "") or a JSON literal
// (Literal != nil), per spec.md §2's "operand2: uve-path | JSON literal".
type Operand struct {
	Path    string
	Literal *uve.Value
}

// PathOperand builds an Operand that resolves against the UVE tree.
func PathOperand(path string) Operand { return Operand{Path: path} }

// LiteralOperand builds an Operand carrying a fixed JSON value.
func LiteralOperand(v *uve.Value) Operand { return Operand{Literal: v} }

// Condition is one leaf test within an AndList.
type Condition struct {
	Op        Op
	Operand1  Operand
	Operand2  Operand
	Variables []string // paths recorded alongside a Match, not evaluated
}

// AndList is a clause of Conditions, all of which must hold.
type AndList []Condition

// Rules is the OR-of-AND rule tree: AlarmRules = OR(AndList).
type Rules []AndList

// CustomHandler lets a rule expose an imperative evaluator in place of the
// generic OR-of-AND tree (spec.md §4.3 "Rule-custom handlers"). Its returned
// match groups are opaque to the evaluator and simply forwarded.
type CustomHandler func(key string, view *uve.Value) [][]Match

// Config is one alarm's full configuration: its rule tree plus the soak and
// frequency parameters consumed by the state machine (spec.md §2, §4.4).
type Config struct {
	Name        string // the alarm_fqname
	Table       string // registered under this table, or a full key
	Severity    int
	Description string

	ParentType           string // e.g. "project"; empty means unscoped
	ParentFQNameFilter   string

	Rules   Rules
	Handler CustomHandler

	ActiveTimer       int
	IdleTimer         int
	FreqCheckTimes    int
	FreqCheckSeconds  int
	FreqExceededCheck bool
}

// AppliesTo reports whether this config is registered for key (spec.md
// §4.3 "Rule selection"): registration is keyed by table name or by the
// full "table:name" key.
func (c *Config) AppliesTo(table, key string) bool {
	return c.Table == table || c.Table == key
}
