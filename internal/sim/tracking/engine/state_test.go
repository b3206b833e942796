package engine

import (
	"errors"
	"sort"
	"testing"

	"cluetracker.ai/internal/sim/tracking/model"
	"cluetracker.ai/internal/sim/tracking/observe"
)

type identity struct {
	typ     model.TypeID
	content string
	loc     model.Coordinate
}

func identities(objs []*model.TrackedObject) []identity {
	out := make([]identity, 0, len(objs))
	for _, o := range objs {
		ids := make([]int, 0, len(o.ContentIDs))
		for _, id := range o.ContentIDs {
			ids = append(ids, int(id))
		}
		sort.Ints(ids)
		s := ""
		for _, id := range ids {
			s += string(rune('A'+id%26)) + ":"
		}
		out = append(out, identity{typ: o.TypeID, content: s, loc: *o.Location})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].loc != out[j].loc {
			return out[i].loc.Less(out[j].loc)
		}
		if out[i].typ != out[j].typ {
			return out[i].typ < out[j].typ
		}
		return out[i].content < out[j].content
	})
	return out
}

func TestState_RoundTrip(t *testing.T) {
	f := newFixture(t)
	f.at(10)
	f.eng.OnInventoryObjectRemoved([]model.ContentID{3, 4}, clueType)
	f.spawn(clueType, model.Coordinate{X: 1, Y: 1}, 300)
	f.spawn(clueType, model.Coordinate{X: 1, Y: 1}, 80)
	f.spawn(otherType, model.Coordinate{X: 2, Y: 7, Plane: 0}, 40)
	f.tick()
	want := identities(f.eng.AllTracked())
	if len(want) != 3 {
		t.Fatalf("expected three objects, got %d", len(want))
	}

	kv := memKV{}
	if err := f.eng.Save(kv, DefaultStateKey); err != nil {
		t.Fatalf("save: %v", err)
	}

	scene := observe.NewScene(52)
	scene.SetTick(10)
	restored, err := New(f.eng.Config(), scene)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	res, err := restored.Load(kv, DefaultStateKey)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Discarded || res.Restored != 3 {
		t.Fatalf("unexpected load result: %+v", res)
	}
	got := identities(restored.AllTracked())
	if len(got) != len(want) {
		t.Fatalf("got %d objects want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("object %d: got %+v want %+v", i, got[i], want[i])
		}
	}
	if err := restored.Check(); err != nil {
		t.Fatalf("check: %v", err)
	}

	// Countdowns resume from the saved remaining ticks.
	for _, o := range restored.AllTracked() {
		if o.Epoch != 0 || o.Live.Valid() {
			t.Fatalf("restored object should have no live frame: %+v", o)
		}
	}
}

func TestState_LoadMissingKeyIsEmpty(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.Load(memKV{}, DefaultStateKey)
	if err != nil || res.Discarded || res.Restored != 0 {
		t.Fatalf("unexpected result: %+v err=%v", res, err)
	}
}

func TestState_MalformedIsDiscardedAndOverwritten(t *testing.T) {
	cases := map[string]string{
		"garbage":        "{not json",
		"wrong version":  `{"version":99,"objects":[]}`,
		"negative timer": `{"version":1,"objects":[{"content_ids":[1],"type_id":2677,"location":[1,1,0],"despawn_ticks_remaining":-5}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.at(3)
			f.spawn(clueType, model.Coordinate{X: 1}, 50)
			f.tick()
			kv := memKV{DefaultStateKey: raw}
			res, err := f.eng.Load(kv, DefaultStateKey)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if !res.Discarded || !errors.Is(res.Reason, ErrMalformedState) {
				t.Fatalf("expected discard, got %+v", res)
			}
			if len(f.eng.AllTracked()) != 0 {
				t.Fatalf("engine should be empty after discarding state")
			}
			recs, err := DecodeState(kv[DefaultStateKey])
			if err != nil || len(recs) != 0 {
				t.Fatalf("store not overwritten with empty state: %q err=%v", kv[DefaultStateKey], err)
			}
		})
	}
}

func TestState_UntrackedRecordsSkipped(t *testing.T) {
	f := newFixture(t)
	err := f.eng.Restore([]Record{
		{TypeID: clueType, Location: [3]int{1, 2, 0}, DespawnTicksRemaining: 10},
		{TypeID: coinsType, Location: [3]int{1, 2, 0}, DespawnTicksRemaining: 10},
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n := len(f.eng.AllTracked()); n != 1 {
		t.Fatalf("expected one restored object, got %d", n)
	}
}

func TestState_RestoredCountdownStartsAtFirstTick(t *testing.T) {
	f := newFixture(t)
	loc := model.Coordinate{X: 3000, Y: 3000}
	if err := f.eng.Restore([]Record{
		{ContentIDs: []model.ContentID{5}, TypeID: clueType, Location: loc.ToArray(), DespawnTicksRemaining: 200},
	}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	f.at(100002)
	f.eng.Rebaseline(100002)
	if d := f.only(loc).PredictedDespawnTick(); d != 100202 {
		t.Fatalf("predicted=%d, want 100202", d)
	}

	// Out of view: the object must outlive the first ticks.
	f.tick()
	f.at(100003)
	if st := f.tick(); st.Expired != 0 || st.Tracked != 1 {
		t.Fatalf("restored object lost: %+v", st)
	}

	// Walking back in, the same timer re-attaches it.
	f.at(100004)
	f.spawn(clueType, loc, 198)
	if st := f.tick(); st.Reattached != 1 || st.Unknowns != 0 {
		t.Fatalf("stats=%+v", st)
	}
	if o := f.only(loc); !o.HasContent(5) || !o.Live.Valid() {
		t.Fatalf("tracked=%+v", o)
	}
}
