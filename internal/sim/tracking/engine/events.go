package engine

import (
	"cluetracker.ai/internal/sim/tracking/ground"
	"cluetracker.ai/internal/sim/tracking/model"
)

// Appeared is an object becoming visible. Countdown is the remaining ticks
// before the host despawns it.
type Appeared struct {
	Handle    model.Handle
	TypeID    model.TypeID
	Location  model.Coordinate
	Countdown int
}

// Disappeared is an object leaving the scene. DespawnTick is the handle's
// last known absolute despawn tick.
type Disappeared struct {
	Handle      model.Handle
	TypeID      model.TypeID
	Location    model.Coordinate
	DespawnTick int
}

// OnObjectAppeared handles a tracked-type object becoming visible. A known
// object is re-attached by its timer; anything else waits for a drop match
// or for the end-of-tick reconcile.
func (e *Engine) OnObjectAppeared(ev Appeared) {
	if !e.tracked[ev.TypeID] {
		return
	}
	now := e.view.CurrentTick()
	despawn := now + ev.Countdown

	// Same object seen again after its handle went stale.
	if o, ok := ground.FindContinuity(e.index.At(ev.Location), ev.TypeID, despawn, e.cfg.DespawnToleranceTicks, e.isLive); ok {
		e.attach(o, ev.Handle, despawn, now)
		e.stats.Reattached++
		return
	}

	if ev.Countdown >= e.cfg.FreshDropCountdownTicks {
		p := model.PendingDrop{
			Handle:      ev.Handle,
			Location:    ev.Location,
			TypeID:      ev.TypeID,
			DespawnTick: despawn,
			CreatedTick: now,
			Epoch:       e.view.Epoch(),
		}
		if cand, ok := e.takeRemoved(ev.TypeID); ok {
			e.promote(p, cand, now)
			return
		}
		e.pending = append(e.pending, p)
		e.stats.PendingDrops++
		return
	}

	// The countdown alone cannot tell a long-lying object on a freshly
	// loaded tile from anything else; let the reconciler decide.
	e.dirty[ev.Location] = true
}

// OnObjectDisappeared decides whether a vanished ground object despawned
// or left the ground some other way.
func (e *Engine) OnObjectDisappeared(ev Disappeared) {
	if !e.tracked[ev.TypeID] {
		return
	}
	if !e.index.Has(ev.Location) {
		e.dropPending(ev.Handle)
		return
	}
	o, ok := e.index.HolderOf(ev.Location, ev.Handle)
	if !ok {
		e.dropPending(ev.Handle)
		return
	}
	now := e.view.CurrentTick()

	if model.AbsInt(ev.DespawnTick-now) <= e.cfg.DespawnToleranceTicks {
		e.index.Remove(o)
		e.stats.Despawned++
		return
	}

	if e.looksLikeChurn(ev.Location) {
		o.Live = model.Handle{}
		o.Rebase(ev.DespawnTick, now, e.view.Epoch())
		e.stats.Churned++
		return
	}

	e.index.Remove(o)
	o.Lift()
	e.confirm = append(e.confirm, model.Confirmation{Object: o, CreatedTick: now})
	e.stats.PickedUp++
}

// looksLikeChurn reports whether an early vanish at loc is more likely the
// host re-syncing a far tile than a pickup: the tile was far from the
// player last tick and the player has since moved one zone closer.
func (e *Engine) looksLikeChurn(loc model.Coordinate) bool {
	cur := e.zoneOf(e.view.PlayerLocation())
	prev := cur
	if e.havePrev {
		prev = e.prevZone
	}
	ez := e.zoneOf(loc)
	dPrev := ez.MaxDistanceTo(prev)
	dCur := ez.MaxDistanceTo(cur)
	return dPrev >= e.cfg.ChurnZoneDistance && dCur == dPrev-1
}

func (e *Engine) dropPending(h model.Handle) {
	if !h.Valid() {
		return
	}
	for i := range e.pending {
		if e.pending[i].Handle == h {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}
