package engine

import (
	"slices"

	"cluetracker.ai/internal/sim/tracking/model"
)

// OnInventoryObjectRemoved is called when a known object leaves the
// inventory, typically because it was dropped.
func (e *Engine) OnInventoryObjectRemoved(contentIDs []model.ContentID, typ model.TypeID) {
	e.NotifyPendingDropCandidate(&model.TrackedObject{
		ContentIDs: slices.Clone(contentIDs),
		TypeID:     typ,
	})
}

// NotifyPendingDropCandidate takes ownership of an object that just left the
// inventory. It is matched against a pending drop now, or against a fresh
// spawn later in this or the next tick.
func (e *Engine) NotifyPendingDropCandidate(o *model.TrackedObject) {
	if o == nil || !e.tracked[o.TypeID] {
		return
	}
	o.Lift()
	now := e.view.CurrentTick()
	for i, p := range e.pending {
		if p.TypeID != o.TypeID {
			continue
		}
		e.pending = append(e.pending[:i], e.pending[i+1:]...)
		e.promote(p, o, now)
		return
	}
	e.removed = append(e.removed, model.RemovedCandidate{Object: o, CreatedTick: now})
}

// OnPickupConfirmationNeeded hands the inventory the oldest object of type
// typ presumed picked up. Ownership moves to the caller.
func (e *Engine) OnPickupConfirmationNeeded(typ model.TypeID) (*model.TrackedObject, bool) {
	for i, c := range e.confirm {
		if c.Object.TypeID != typ {
			continue
		}
		e.confirm = append(e.confirm[:i], e.confirm[i+1:]...)
		return c.Object, true
	}
	return nil, false
}

// PendingConfirmations returns copies of the objects presumed picked up
// and not yet claimed by the inventory.
func (e *Engine) PendingConfirmations() []*model.TrackedObject {
	out := make([]*model.TrackedObject, 0, len(e.confirm))
	for _, c := range e.confirm {
		out = append(out, c.Object.Clone())
	}
	return out
}

func (e *Engine) takeRemoved(typ model.TypeID) (*model.TrackedObject, bool) {
	for i, r := range e.removed {
		if r.Object.TypeID != typ {
			continue
		}
		e.removed = append(e.removed[:i], e.removed[i+1:]...)
		return r.Object, true
	}
	return nil, false
}

// promote places o on the ground where pending drop p appeared.
func (e *Engine) promote(p model.PendingDrop, o *model.TrackedObject, nowTick int) {
	o.PlaceAt(p.Location)
	o.Live = model.Handle{}
	if e.isLive(p.Handle) {
		o.Live = p.Handle
	}
	o.Rebase(p.DespawnTick, nowTick, p.Epoch)
	if o.Seq == 0 {
		o.Seq = e.seq()
	}
	e.index.Add(o)
	e.stats.Promoted++
}
