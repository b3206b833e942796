package ground

import (
	"testing"

	"cluetracker.ai/internal/sim/tracking/model"
)

func placed(seq uint64, typ model.TypeID, c model.Coordinate, despawn int) *model.TrackedObject {
	o := &model.TrackedObject{TypeID: typ, Seq: seq}
	o.PlaceAt(c)
	o.Rebase(despawn, 0, 1)
	return o
}

func TestIndex_RemoveDropsEmptyBucket(t *testing.T) {
	x := New()
	c := model.Coordinate{X: 1, Y: 1}
	a := placed(1, 10, c, 100)
	b := placed(2, 10, c, 120)
	x.Add(a)
	x.Add(b)
	if x.Len() != 2 || x.Tiles() != 1 {
		t.Fatalf("unexpected size: len=%d tiles=%d", x.Len(), x.Tiles())
	}
	if !x.Remove(a) {
		t.Fatalf("remove a failed")
	}
	if got := x.At(c); len(got) != 1 || got[0] != b {
		t.Fatalf("unexpected bucket: %v", got)
	}
	if !x.Remove(b) {
		t.Fatalf("remove b failed")
	}
	if x.Has(c) || x.Tiles() != 0 || x.Len() != 0 {
		t.Fatalf("empty bucket left behind")
	}
	if err := x.Check(); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestIndex_RejectsInventoryObjects(t *testing.T) {
	x := New()
	if x.Add(&model.TrackedObject{TypeID: 1}) {
		t.Fatalf("object without location must not enter the ground index")
	}
}

func TestIndex_ReplaceAndCheck(t *testing.T) {
	x := New()
	c := model.Coordinate{X: 5, Y: 5}
	a := placed(1, 10, c, 100)
	x.Add(a)
	b := placed(2, 10, c, 100)
	x.Replace(c, []*model.TrackedObject{a, b})
	if x.Len() != 2 {
		t.Fatalf("len=%d", x.Len())
	}
	a.Live = model.Handle{Index: 1, Gen: 1}
	b.Live = a.Live
	if err := x.Check(); err == nil {
		t.Fatalf("expected duplicate handle to be reported")
	}
	x.Replace(c, nil)
	if x.Has(c) || x.Len() != 0 {
		t.Fatalf("replace with nil should drop the tile")
	}
}

func TestFindContinuityAndExpired(t *testing.T) {
	c := model.Coordinate{}
	a := placed(2, 10, c, 200)
	b := placed(1, 10, c, 201)
	other := placed(3, 11, c, 200)
	got, ok := FindContinuity([]*model.TrackedObject{a, b, other}, 10, 200, 1, nil)
	if !ok || got != b {
		t.Fatalf("expected lowest sequence within tolerance, got %+v", got)
	}
	if _, ok := FindContinuity([]*model.TrackedObject{a}, 10, 203, 1, nil); ok {
		t.Fatalf("match outside tolerance")
	}

	exp := SortedExpired([]*model.TrackedObject{a, b, other}, 202, 1, nil)
	if len(exp) != 2 || exp[0] != a || exp[1] != other {
		t.Fatalf("unexpected expired set: %v", exp)
	}
}
