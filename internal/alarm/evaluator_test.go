package alarm

import (
	"testing"

	"github.com/oriys/alarmgen/internal/uve"
)

func viewWithField(name string, v *uve.Value) *uve.Value {
	return uve.NewObject(map[string]*uve.Value{name: v})
}

func TestEvaluateSimpleEquality(t *testing.T) {
	cfg := &Config{
		Name:  "DownAlarm",
		Table: "virtual-network",
		Rules: Rules{
			AndList{
				{Op: OpEQ, Operand1: PathOperand("X.s"), Operand2: LiteralOperand(uve.NewScalar("DOWN"))},
			},
		},
	}
	view := viewWithField("X", viewWithField("s", uve.NewScalar("DOWN")))
	matches := Evaluate(cfg, "virtual-network:vn01", view)
	if len(matches) != 1 || len(matches[0]) != 1 {
		t.Fatalf("expected one matched AndList with one match, got %+v", matches)
	}

	view2 := viewWithField("X", viewWithField("s", uve.NewScalar("UP")))
	matches2 := Evaluate(cfg, "virtual-network:vn01", view2)
	if len(matches2) != 0 {
		t.Fatalf("expected no match for UP, got %+v", matches2)
	}
}

func TestEvaluateMissingPathFailsAnd(t *testing.T) {
	cfg := &Config{
		Rules: Rules{
			AndList{
				{Op: OpEQ, Operand1: PathOperand("missing.field"), Operand2: LiteralOperand(uve.NewScalar("x"))},
			},
		},
	}
	matches := Evaluate(cfg, "t:k", uve.NewObject(map[string]*uve.Value{}))
	if len(matches) != 0 {
		t.Fatalf("expected missing path to fail, got %+v", matches)
	}
}

func TestEvaluateOrOfAnd(t *testing.T) {
	cfg := &Config{
		Rules: Rules{
			AndList{{Op: OpEQ, Operand1: PathOperand("a"), Operand2: LiteralOperand(uve.NewScalar("no-match"))}},
			AndList{{Op: OpEQ, Operand1: PathOperand("a"), Operand2: LiteralOperand(uve.NewScalar("x"))}},
		},
	}
	view := viewWithField("a", uve.NewScalar("x"))
	matches := Evaluate(cfg, "t:k", view)
	if len(matches) != 1 {
		t.Fatalf("expected exactly one AndList to match, got %d", len(matches))
	}
}

func TestEvaluateInNotIn(t *testing.T) {
	list := uve.NewList([]*uve.Value{uve.NewScalar("a"), uve.NewScalar("b")})
	cfg := &Config{
		Rules: Rules{
			AndList{{Op: OpIn, Operand1: PathOperand("v"), Operand2: LiteralOperand(list)}},
		},
	}
	view := viewWithField("v", uve.NewScalar("a"))
	if matches := Evaluate(cfg, "t:k", view); len(matches) != 1 {
		t.Fatalf("expected in match, got %+v", matches)
	}

	viewMiss := viewWithField("v", uve.NewScalar("z"))
	if matches := Evaluate(cfg, "t:k", viewMiss); len(matches) != 0 {
		t.Fatalf("expected no in match, got %+v", matches)
	}
}

func TestEvaluateRange(t *testing.T) {
	bounds := uve.NewList([]*uve.Value{uve.NewScalar(float64(10)), uve.NewScalar(float64(20))})
	cfg := &Config{
		Rules: Rules{
			AndList{{Op: OpRange, Operand1: PathOperand("n"), Operand2: LiteralOperand(bounds)}},
		},
	}
	inRange := viewWithField("n", uve.NewScalar(float64(15)))
	if matches := Evaluate(cfg, "t:k", inRange); len(matches) != 1 {
		t.Fatalf("expected in-range match, got %+v", matches)
	}
	outOfRange := viewWithField("n", uve.NewScalar(float64(25)))
	if matches := Evaluate(cfg, "t:k", outOfRange); len(matches) != 0 {
		t.Fatalf("expected out-of-range to fail, got %+v", matches)
	}
}

func TestEvaluateNullOrdering(t *testing.T) {
	cfg := &Config{
		Rules: Rules{
			AndList{{Op: OpLT, Operand1: PathOperand("v"), Operand2: LiteralOperand(uve.NewScalar(float64(5)))}},
		},
	}
	nullView := viewWithField("v", uve.Null)
	if matches := Evaluate(cfg, "t:k", nullView); len(matches) != 1 {
		t.Fatalf("expected null < 5 to hold, got %+v", matches)
	}
}

func TestEvaluateListFanOutScalar(t *testing.T) {
	list := uve.NewList([]*uve.Value{uve.NewScalar(float64(1)), uve.NewScalar(float64(9))})
	cfg := &Config{
		Rules: Rules{
			AndList{{Op: OpGT, Operand1: PathOperand("v"), Operand2: LiteralOperand(uve.NewScalar(float64(5)))}},
		},
	}
	view := viewWithField("v", list)
	matches := Evaluate(cfg, "t:k", view)
	if len(matches) != 1 || len(matches[0]) != 1 {
		t.Fatalf("expected exactly one element (9) to satisfy >5, got %+v", matches)
	}
}
