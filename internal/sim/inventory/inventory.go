// Package inventory mirrors the tracked objects the player is holding and
// exchanges them with the ground engine when they cross the boundary.
package inventory

import (
	"cluetracker.ai/internal/sim/tracking/model"
)

// Ground is the part of the engine the inventory talks to.
type Ground interface {
	NotifyPendingDropCandidate(o *model.TrackedObject)
	OnPickupConfirmationNeeded(typ model.TypeID) (*model.TrackedObject, bool)
}

type Tracker struct {
	ground Ground
	held   []*model.TrackedObject
}

func NewTracker(g Ground) *Tracker {
	return &Tracker{ground: g}
}

// Added records an object entering the inventory. If the engine saw the
// matching object leave the ground, its content comes along.
func (t *Tracker) Added(typ model.TypeID) *model.TrackedObject {
	o, ok := t.ground.OnPickupConfirmationNeeded(typ)
	if !ok {
		o = &model.TrackedObject{TypeID: typ}
	}
	o.Lift()
	t.held = append(t.held, o)
	return o
}

// Learned attaches content read from a held object. Multi-step objects
// accumulate their steps in order.
func (t *Tracker) Learned(typ model.TypeID, id model.ContentID) bool {
	for _, o := range t.held {
		if o.TypeID != typ {
			continue
		}
		if !o.HasContent(id) {
			o.ContentIDs = append(o.ContentIDs, id)
		}
		return true
	}
	return false
}

// Removed records an object leaving the inventory. Known objects are handed
// to the engine, which owns them from then on.
func (t *Tracker) Removed(typ model.TypeID) (*model.TrackedObject, bool) {
	for i, o := range t.held {
		if o.TypeID != typ {
			continue
		}
		t.held = append(t.held[:i], t.held[i+1:]...)
		if o.Known() {
			t.ground.NotifyPendingDropCandidate(o)
		}
		return o, true
	}
	return nil, false
}

func (t *Tracker) Held() []*model.TrackedObject {
	out := make([]*model.TrackedObject, 0, len(t.held))
	for _, o := range t.held {
		out = append(out, o.Clone())
	}
	return out
}

func (t *Tracker) Reset() { t.held = nil }
