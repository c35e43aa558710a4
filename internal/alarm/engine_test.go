package alarm

import (
	"testing"

	"github.com/oriys/alarmgen/internal/uve"
)

func downAlarmConfig(activeTimer int) *Config {
	return &Config{
		Name:  "DownAlarm",
		Table: "T",
		Rules: Rules{
			AndList{{Op: OpEQ, Operand1: PathOperand("X.s"), Operand2: LiteralOperand(uve.NewScalar("DOWN"))}},
		},
		ActiveTimer: activeTimer,
	}
}

func stateView(s string) *uve.Value {
	return viewWithField("X", viewWithField("s", uve.NewScalar(s)))
}

// TestSimpleAssertClear covers spec.md §8 scenario 1.
func TestSimpleAssertClear(t *testing.T) {
	var lastKey, lastTable string
	var lastInfo *Info
	e := NewEngine(func(table, key, name string, info *Info) {
		lastTable, lastKey, lastInfo = table, key, info
	})
	e.LoadConfig(downAlarmConfig(0))

	e.Evaluate("T", "T:k1", stateView("DOWN"), 100)
	rec := e.Record("T", "T:k1", "DownAlarm")
	if rec == nil || rec.State != Active {
		t.Fatalf("expected Active, got %+v", rec)
	}
	if lastInfo == nil || lastTable != "T" || lastKey != "T:k1" {
		t.Fatalf("expected a notify call for the Active transition")
	}

	e.Evaluate("T", "T:k1", stateView("UP"), 101)
	if e.Record("T", "T:k1", "DownAlarm") != nil {
		t.Fatalf("expected record destroyed after clearing with no soak/delete window")
	}
	if lastInfo != nil {
		t.Fatalf("expected the final notify call to carry nil info (removal)")
	}
}

// TestSoakActiveStaysIdleIfClearedEarly covers spec.md §8 scenario 2.
func TestSoakActiveStaysIdleIfClearedEarly(t *testing.T) {
	notified := 0
	e := NewEngine(func(table, key, name string, info *Info) {
		if info != nil {
			notified++
		}
	})
	e.LoadConfig(downAlarmConfig(5))

	e.Evaluate("T", "T:k1", stateView("DOWN"), 0)
	rec := e.Record("T", "T:k1", "DownAlarm")
	if rec == nil || rec.State != SoakActive {
		t.Fatalf("expected Soak_Active, got %+v", rec)
	}

	e.Evaluate("T", "T:k1", stateView("UP"), 3)
	rec = e.Record("T", "T:k1", "DownAlarm")
	if rec != nil && rec.State != Idle {
		t.Fatalf("expected Idle after early clear, got %+v", rec)
	}
	if notified != 0 {
		t.Fatalf("expected no Active notification to have fired, got %d", notified)
	}
}

// TestFrequencyExceededShortCircuitsSoak covers spec.md §8 scenario 3.
func TestFrequencyExceededShortCircuitsSoak(t *testing.T) {
	e := NewEngine(func(table, key, name string, info *Info) {})
	cfg := downAlarmConfig(10)
	cfg.FreqCheckTimes = 3
	cfg.FreqCheckSeconds = 30
	cfg.FreqExceededCheck = true
	e.LoadConfig(cfg)

	times := []int64{0, 5, 10}
	for _, ts := range times {
		e.Evaluate("T", "T:k1", stateView("DOWN"), ts)
		e.Evaluate("T", "T:k1", stateView("UP"), ts+1)
	}
	// Fourth assert within the 30s window should short-circuit straight to
	// Active instead of Soak_Active.
	e.Evaluate("T", "T:k1", stateView("DOWN"), 15)
	rec := e.Record("T", "T:k1", "DownAlarm")
	if rec == nil || rec.State != Active {
		t.Fatalf("expected frequency-exceeded to force Active, got %+v", rec)
	}
}

func TestRunTimersPromotesSoakActive(t *testing.T) {
	promoted := false
	e := NewEngine(func(table, key, name string, info *Info) {
		if info != nil {
			promoted = true
		}
	})
	e.LoadConfig(downAlarmConfig(5))
	e.Evaluate("T", "T:k1", stateView("DOWN"), 0)

	e.RunTimers(4)
	if rec := e.Record("T", "T:k1", "DownAlarm"); rec.State != SoakActive {
		t.Fatalf("expected still Soak_Active before timer fires, got %+v", rec)
	}

	e.RunTimers(5)
	rec := e.Record("T", "T:k1", "DownAlarm")
	if rec == nil || rec.State != Active {
		t.Fatalf("expected Active after active timer fires, got %+v", rec)
	}
	if !promoted {
		t.Fatalf("expected a notify call on timer-driven promotion")
	}
}

func TestAckLifecycle(t *testing.T) {
	e := NewEngine(func(table, key, name string, info *Info) {})
	e.LoadConfig(downAlarmConfig(0))
	e.Evaluate("T", "T:k1", stateView("DOWN"), 42)

	if r := e.Ack("T", "T:k1", "DownAlarm", 1); r != AckInvalidAlarmRequest {
		t.Fatalf("expected INVALID_ALARM_REQUEST for mismatched timestamp, got %s", r)
	}
	if r := e.Ack("T", "T:k1", "NoSuchAlarm", 42); r != AckAlarmNotPresent {
		t.Fatalf("expected ALARM_NOT_PRESENT, got %s", r)
	}
	if r := e.Ack("T", "T:k1", "DownAlarm", 42); r != AckSuccess {
		t.Fatalf("expected SUCCESS, got %s", r)
	}
	if r := e.Ack("T", "T:k1", "DownAlarm", 42); r != AckSuccess {
		t.Fatalf("expected idempotent SUCCESS on repeat ack, got %s", r)
	}
}
