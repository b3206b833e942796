package model

import "slices"

type ContentID int

type TypeID int

// TrackedObject is the unit of identity: a ground or inventory object with the
// content it is known to carry.
//
// Location == nil means the object is held in inventory (or in transit to it)
// and the ground index must not reference it.
type TrackedObject struct {
	ContentIDs []ContentID
	TypeID     TypeID
	Location   *Coordinate
	Live       Handle

	// DespawnBaselineTicks is the remaining countdown observed at BaselineTick.
	DespawnBaselineTicks int
	BaselineTick         int
	// Epoch is the scene generation the baseline was observed in. 0 means
	// the baseline was restored from persisted state.
	Epoch uint32

	Seq uint64
}

func (o *TrackedObject) Known() bool { return len(o.ContentIDs) > 0 }

func (o *TrackedObject) OnGround() bool { return o.Location != nil }

func (o *TrackedObject) PredictedDespawnTick() int {
	return o.BaselineTick + o.DespawnBaselineTicks
}

// Rebase records an observed absolute despawn tick as the new baseline.
func (o *TrackedObject) Rebase(despawnTick, nowTick int, epoch uint32) {
	o.BaselineTick = nowTick
	o.DespawnBaselineTicks = despawnTick - nowTick
	o.Epoch = epoch
}

func (o *TrackedObject) RemainingTicks(nowTick int) int {
	r := o.PredictedDespawnTick() - nowTick
	if r < 0 {
		return 0
	}
	return r
}

func (o *TrackedObject) HasContent(id ContentID) bool {
	return slices.Contains(o.ContentIDs, id)
}

// PlaceAt moves ownership to the ground at c.
func (o *TrackedObject) PlaceAt(c Coordinate) {
	loc := c
	o.Location = &loc
}

// Lift clears the location and live handle; the caller becomes the owner.
func (o *TrackedObject) Lift() {
	o.Location = nil
	o.Live = Handle{}
}

// Clone returns a deep copy safe to hand to read-only consumers.
func (o *TrackedObject) Clone() *TrackedObject {
	if o == nil {
		return nil
	}
	c := *o
	c.ContentIDs = slices.Clone(o.ContentIDs)
	if o.Location != nil {
		loc := *o.Location
		c.Location = &loc
	}
	return &c
}
