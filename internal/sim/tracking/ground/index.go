package ground

import (
	"fmt"
	"sort"

	"cluetracker.ai/internal/sim/tracking/model"
)

// Index maps a tile to the ordered set of tracked objects lying on it.
// A tile key never maps to an empty set.
type Index struct {
	byLoc map[model.Coordinate][]*model.TrackedObject
	count int
}

func New() *Index {
	return &Index{byLoc: map[model.Coordinate][]*model.TrackedObject{}}
}

func (x *Index) Reset() {
	x.byLoc = map[model.Coordinate][]*model.TrackedObject{}
	x.count = 0
}

// Add appends o to the bucket of its location. Objects without a location
// belong to the inventory and are rejected.
func (x *Index) Add(o *model.TrackedObject) bool {
	if o == nil || o.Location == nil {
		return false
	}
	loc := *o.Location
	x.byLoc[loc] = append(x.byLoc[loc], o)
	x.count++
	return true
}

func (x *Index) Remove(o *model.TrackedObject) bool {
	if o == nil || o.Location == nil {
		return false
	}
	loc := *o.Location
	objs, ok := x.byLoc[loc]
	if !ok {
		return false
	}
	next, removed := RemoveObject(objs, o)
	if !removed {
		return false
	}
	x.count--
	if len(next) == 0 {
		delete(x.byLoc, loc)
	} else {
		x.byLoc[loc] = next
	}
	return true
}

// At returns a copy of the bucket at c.
func (x *Index) At(c model.Coordinate) []*model.TrackedObject {
	objs := x.byLoc[c]
	if len(objs) == 0 {
		return nil
	}
	out := make([]*model.TrackedObject, len(objs))
	copy(out, objs)
	return out
}

func (x *Index) Has(c model.Coordinate) bool {
	_, ok := x.byLoc[c]
	return ok
}

// Replace sets the bucket at c to exactly objs, dropping the key when objs
// is empty.
func (x *Index) Replace(c model.Coordinate, objs []*model.TrackedObject) {
	x.count -= len(x.byLoc[c])
	if len(objs) == 0 {
		delete(x.byLoc, c)
		return
	}
	next := make([]*model.TrackedObject, len(objs))
	copy(next, objs)
	x.byLoc[c] = next
	x.count += len(next)
}

// DeleteTile drops the whole bucket at c and returns what it held.
func (x *Index) DeleteTile(c model.Coordinate) []*model.TrackedObject {
	objs := x.byLoc[c]
	delete(x.byLoc, c)
	x.count -= len(objs)
	return objs
}

// HolderOf returns the object at c currently holding live handle h.
func (x *Index) HolderOf(c model.Coordinate, h model.Handle) (*model.TrackedObject, bool) {
	if !h.Valid() {
		return nil, false
	}
	for _, o := range x.byLoc[c] {
		if o.Live == h {
			return o, true
		}
	}
	return nil, false
}

// Locations returns every occupied tile in a stable order.
func (x *Index) Locations() []model.Coordinate {
	out := make([]model.Coordinate, 0, len(x.byLoc))
	for c := range x.byLoc {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (x *Index) Len() int   { return x.count }
func (x *Index) Tiles() int { return len(x.byLoc) }

// All returns every tracked object, tiles in Locations order.
func (x *Index) All() []*model.TrackedObject {
	out := make([]*model.TrackedObject, 0, x.count)
	for _, c := range x.Locations() {
		out = append(out, x.byLoc[c]...)
	}
	return out
}

// Check verifies the bucket invariants. Used by tests and debug endpoints.
func (x *Index) Check() error {
	seen := map[*model.TrackedObject]model.Coordinate{}
	n := 0
	for c, objs := range x.byLoc {
		if len(objs) == 0 {
			return fmt.Errorf("empty bucket at %s", c)
		}
		handles := map[model.Handle]bool{}
		for _, o := range objs {
			if o.Location == nil {
				return fmt.Errorf("object seq=%d at %s has no location", o.Seq, c)
			}
			if *o.Location != c {
				return fmt.Errorf("object seq=%d keyed at %s but located at %s", o.Seq, c, *o.Location)
			}
			if prev, dup := seen[o]; dup {
				return fmt.Errorf("object seq=%d in buckets %s and %s", o.Seq, prev, c)
			}
			seen[o] = c
			if o.Live.Valid() {
				if handles[o.Live] {
					return fmt.Errorf("handle %s held twice at %s", o.Live, c)
				}
				handles[o.Live] = true
			}
			n++
		}
	}
	if n != x.count {
		return fmt.Errorf("count mismatch: have %d, counted %d", x.count, n)
	}
	return nil
}
