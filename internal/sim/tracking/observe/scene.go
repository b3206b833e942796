package observe

import (
	"sort"

	"cluetracker.ai/internal/sim/tracking/model"
)

// LiveObject is a world object currently visible in the scene.
type LiveObject struct {
	Handle      model.Handle
	TypeID      model.TypeID
	Location    model.Coordinate
	DespawnTick int
}

// View is what the engine reads from the observation layer.
type View interface {
	CurrentTick() int
	// Epoch changes whenever the scene is rebuilt and all handles go stale.
	Epoch() uint32
	PlayerLocation() model.Coordinate
	Resolve(h model.Handle) (LiveObject, bool)
	// ObjectsAt reports ok=false when the tile is not loaded.
	ObjectsAt(c model.Coordinate) ([]LiveObject, bool)
}

type slot struct {
	gen  uint32
	used bool
	ref  uint64
	obj  LiveObject
}

// Scene is an arena of live objects keyed by the host's opaque object refs.
// Handles are (slot index, slot generation); freeing a slot bumps its
// generation so old handles stop resolving.
type Scene struct {
	tick   int
	epoch  uint32
	player model.Coordinate
	radius int

	slots []slot
	free  []uint32
	byRef map[uint64]model.Handle
	at    map[model.Coordinate][]model.Handle
}

func NewScene(radiusTiles int) *Scene {
	return &Scene{
		epoch:  1,
		radius: radiusTiles,
		byRef:  map[uint64]model.Handle{},
		at:     map[model.Coordinate][]model.Handle{},
	}
}

func (s *Scene) CurrentTick() int                 { return s.tick }
func (s *Scene) Epoch() uint32                    { return s.epoch }
func (s *Scene) PlayerLocation() model.Coordinate { return s.player }

func (s *Scene) SetTick(t int)                { s.tick = t }
func (s *Scene) SetPlayer(c model.Coordinate) { s.player = c }

// Loaded reports whether tile c is inside the loaded area around the player.
func (s *Scene) Loaded(c model.Coordinate) bool {
	if c.Plane != s.player.Plane {
		return false
	}
	if s.radius <= 0 {
		return true
	}
	return model.Chebyshev(c, s.player) <= s.radius
}

// Spawn registers a newly visible object with the given countdown.
// A ref that is already present is replaced.
func (s *Scene) Spawn(ref uint64, typ model.TypeID, loc model.Coordinate, countdown int) LiveObject {
	if _, ok := s.byRef[ref]; ok {
		s.Despawn(ref)
	}
	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot{gen: 1})
	}
	sl := &s.slots[idx]
	h := model.Handle{Index: idx, Gen: sl.gen}
	sl.used = true
	sl.ref = ref
	sl.obj = LiveObject{
		Handle:      h,
		TypeID:      typ,
		Location:    loc,
		DespawnTick: s.tick + countdown,
	}
	s.byRef[ref] = h
	s.at[loc] = append(s.at[loc], h)
	return sl.obj
}

// Despawn removes ref and returns the object as last seen.
func (s *Scene) Despawn(ref uint64) (LiveObject, bool) {
	h, ok := s.byRef[ref]
	if !ok {
		return LiveObject{}, false
	}
	obj, _ := s.Resolve(h)
	delete(s.byRef, ref)
	s.release(h)
	return obj, true
}

func (s *Scene) HandleFor(ref uint64) (model.Handle, bool) {
	h, ok := s.byRef[ref]
	return h, ok
}

// Reload drops every live object and starts a new epoch.
func (s *Scene) Reload() {
	for i := range s.slots {
		if s.slots[i].used {
			s.slots[i].used = false
			s.slots[i].gen++
			s.free = append(s.free, uint32(i))
		}
	}
	s.byRef = map[uint64]model.Handle{}
	s.at = map[model.Coordinate][]model.Handle{}
	s.epoch++
}

func (s *Scene) Resolve(h model.Handle) (LiveObject, bool) {
	if !h.Valid() || int(h.Index) >= len(s.slots) {
		return LiveObject{}, false
	}
	sl := s.slots[h.Index]
	if !sl.used || sl.gen != h.Gen {
		return LiveObject{}, false
	}
	return sl.obj, true
}

func (s *Scene) ObjectsAt(c model.Coordinate) ([]LiveObject, bool) {
	if !s.Loaded(c) {
		return nil, false
	}
	hs := s.at[c]
	out := make([]LiveObject, 0, len(hs))
	for _, h := range hs {
		if obj, ok := s.Resolve(h); ok {
			out = append(out, obj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle.Index < out[j].Handle.Index })
	return out, true
}

func (s *Scene) release(h model.Handle) {
	sl := &s.slots[h.Index]
	loc := sl.obj.Location
	hs := s.at[loc]
	for i := range hs {
		if hs[i] == h {
			hs = append(hs[:i], hs[i+1:]...)
			break
		}
	}
	if len(hs) == 0 {
		delete(s.at, loc)
	} else {
		s.at[loc] = hs
	}
	sl.used = false
	sl.gen++
	sl.obj = LiveObject{}
	s.free = append(s.free, h.Index)
}
