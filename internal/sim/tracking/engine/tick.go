package engine

import (
	"sort"

	"cluetracker.ai/internal/sim/tracking/ground"
	"cluetracker.ai/internal/sim/tracking/model"
	"cluetracker.ai/internal/sim/tracking/observe"
	"cluetracker.ai/internal/sim/tracking/reconcile"
)

// Tick runs the reconcile and cleanup phases for the current tick. It must be
// called once, after all of the tick's appear/disappear events.
func (e *Engine) Tick() TickStats {
	now := e.view.CurrentTick()
	epoch := e.view.Epoch()

	for _, c := range e.dirtyTiles() {
		e.reconcileTile(c, now, epoch)
	}
	e.dirty = map[model.Coordinate]bool{}

	e.clearEmptyTiles()
	e.expireDetached(now)
	e.expirePending(now)
	e.expireTransit(now)

	e.prevZone = e.zoneOf(e.view.PlayerLocation())
	e.havePrev = true

	st := e.stats
	st.Tick = now
	st.Tracked = e.index.Len()
	st.Tiles = e.index.Tiles()
	e.stats = TickStats{}
	return st
}

func (e *Engine) dirtyTiles() []model.Coordinate {
	out := make([]model.Coordinate, 0, len(e.dirty))
	for c := range e.dirty {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (e *Engine) reconcileTile(c model.Coordinate, nowTick int, epoch uint32) {
	liveAll, ok := e.view.ObjectsAt(c)
	if !ok {
		// Tile not loaded: nothing to learn this tick.
		return
	}
	objs := e.index.At(c)

	held := map[model.Handle]bool{}
	var detached []*model.TrackedObject
	for _, o := range objs {
		if o.Live.Valid() && e.isLive(o.Live) {
			held[o.Live] = true
			continue
		}
		o.Live = model.Handle{}
		detached = append(detached, o)
	}
	for _, p := range e.pending {
		held[p.Handle] = true
	}
	var live []observe.LiveObject
	for _, l := range liveAll {
		if !e.tracked[l.TypeID] || held[l.Handle] {
			continue
		}
		live = append(live, l)
	}
	if len(live) == 0 {
		return
	}

	r := reconcile.Plan(detached, live, epoch)
	e.stats.countDecision(r.Decision)
	for _, p := range r.Pairs {
		e.attach(p.Tracked, p.Live.Handle, p.Live.DespawnTick, nowTick)
	}
	for _, l := range r.Unmatched {
		objs = append(objs, e.newUnknown(l, nowTick))
		e.stats.Unknowns++
	}
	e.index.Replace(c, objs)
}

// clearEmptyTiles drops tiles close to the player that are loaded and show
// no tracked objects at all. Far or unloaded tiles are left alone.
func (e *Engine) clearEmptyTiles() {
	player := e.zoneOf(e.view.PlayerLocation())
	for _, c := range e.index.Locations() {
		if e.zoneOf(c).MaxDistanceTo(player) >= e.cfg.VisibleZoneDistance {
			continue
		}
		live, ok := e.view.ObjectsAt(c)
		if !ok {
			continue
		}
		if e.countTracked(live) > 0 {
			continue
		}
		e.stats.Cleared += len(e.index.DeleteTile(c))
	}
}

func (e *Engine) expireDetached(nowTick int) {
	for _, c := range e.index.Locations() {
		for _, o := range ground.SortedExpired(e.index.At(c), nowTick, e.cfg.DespawnToleranceTicks, e.isLive) {
			e.index.Remove(o)
			e.stats.Expired++
		}
	}
}

// expirePending resolves pending drops nobody claimed as unknown objects.
func (e *Engine) expirePending(nowTick int) {
	kept := e.pending[:0]
	for _, p := range e.pending {
		if !p.Expired(nowTick, e.cfg.PendingTTLTicks) {
			kept = append(kept, p)
			continue
		}
		o := &model.TrackedObject{TypeID: p.TypeID, Seq: e.seq()}
		o.PlaceAt(p.Location)
		if e.isLive(p.Handle) {
			o.Live = p.Handle
		}
		o.Rebase(p.DespawnTick, nowTick, p.Epoch)
		e.index.Add(o)
		e.stats.Unknowns++
	}
	e.pending = kept
}

// expireTransit discards removed candidates and pickup confirmations that
// found no partner within their window.
func (e *Engine) expireTransit(nowTick int) {
	ttl := e.cfg.PendingTTLTicks
	removed := e.removed[:0]
	for _, r := range e.removed {
		if nowTick-r.CreatedTick < ttl {
			removed = append(removed, r)
		}
	}
	e.removed = removed
	confirm := e.confirm[:0]
	for _, c := range e.confirm {
		if nowTick-c.CreatedTick < ttl {
			confirm = append(confirm, c)
		}
	}
	e.confirm = confirm
}

func (e *Engine) countTracked(live []observe.LiveObject) int {
	n := 0
	for _, l := range live {
		if e.tracked[l.TypeID] {
			n++
		}
	}
	return n
}
