package alarm

// recordKey identifies one (table, key, alarm) triple, the unit the global
// timer index and record map are keyed by (spec.md §4.4).
type recordKey struct {
	table string
	key   string
	name  string
}

// timerIndex is the global sorted timer map of spec.md §4.4: "A global
// sorted timer index maps absolute_time -> set<(table,key,alarm)>; a single
// cooperative scanner drains entries whose time has passed." A plain map
// keyed by absolute second is enough since the scanner only needs to find
// times <= now, not a fully sorted walk.
type timerIndex struct {
	byTime map[int64]map[recordKey]bool
}

func newTimerIndex() *timerIndex {
	return &timerIndex{byTime: make(map[int64]map[recordKey]bool)}
}

func (t *timerIndex) add(at int64, id recordKey) {
	if at == 0 {
		return
	}
	set, ok := t.byTime[at]
	if !ok {
		set = make(map[recordKey]bool)
		t.byTime[at] = set
	}
	set[id] = true
}

func (t *timerIndex) remove(at int64, id recordKey) {
	if at == 0 {
		return
	}
	set, ok := t.byTime[at]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(t.byTime, at)
	}
}

// due returns the id of every timer whose time has passed and removes those
// timers from the index.
func (t *timerIndex) due(now int64) []recordKey {
	var out []recordKey
	for at, set := range t.byTime {
		if at > now {
			continue
		}
		for id := range set {
			out = append(out, id)
		}
		delete(t.byTime, at)
	}
	return out
}
