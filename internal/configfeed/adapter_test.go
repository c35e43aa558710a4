package configfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oriys/alarmgen/internal/alarm"
	"github.com/oriys/alarmgen/internal/uve"
)

type fakeEngine struct {
	loaded     []*alarm.Config
	evaluated  []string
}

func (f *fakeEngine) LoadConfig(cfg *alarm.Config) { f.loaded = append(f.loaded, cfg) }
func (f *fakeEngine) Evaluate(table, key string, view *uve.Value, now int64) {
	f.evaluated = append(f.evaluated, key)
}

func TestAdapterPollAndApply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"virtual-network": {
				"DownAlarm": {
					"rules": [[{"op": "==", "operand1": "X.s", "operand2": "DOWN"}]],
					"active_timer": 0
				}
			}
		}`))
	}))
	defer srv.Close()

	fe := &fakeEngine{}
	keys := func(table string) []uve.Key { return []uve.Key{"virtual-network:vn01"} }
	views := func(key uve.Key) (*uve.Value, bool) { return uve.NewObject(map[string]*uve.Value{}), true }

	a := NewAdapter(srv.URL, fe, keys, views)
	a.Poll(context.Background())
	a.ApplyPending(100)

	if len(fe.loaded) != 1 || fe.loaded[0].Name != "DownAlarm" {
		t.Fatalf("expected DownAlarm loaded, got %+v", fe.loaded)
	}
	if len(fe.evaluated) != 1 || fe.evaluated[0] != "virtual-network:vn01" {
		t.Fatalf("expected vn01 re-evaluated, got %+v", fe.evaluated)
	}
}

func TestAdapterCoalescesPendingDeltas(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.Write([]byte(`{"T": {"A": {"rules": [], "active_timer": 0}}}`))
		} else {
			w.Write([]byte(`{"T": {"B": {"rules": [], "active_timer": 0}}}`))
		}
	}))
	defer srv.Close()

	fe := &fakeEngine{}
	a := NewAdapter(srv.URL, fe, func(string) []uve.Key { return nil }, func(uve.Key) (*uve.Value, bool) { return nil, false })
	a.Poll(context.Background())
	a.Poll(context.Background())
	a.ApplyPending(0)

	if len(fe.loaded) != 2 {
		t.Fatalf("expected both A and B coalesced and loaded, got %d", len(fe.loaded))
	}
}
