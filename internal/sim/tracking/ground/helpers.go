package ground

import (
	"sort"

	"cluetracker.ai/internal/sim/tracking/model"
)

func RemoveObject(objs []*model.TrackedObject, o *model.TrackedObject) ([]*model.TrackedObject, bool) {
	for i := 0; i < len(objs); i++ {
		if objs[i] != o {
			continue
		}
		copy(objs[i:], objs[i+1:])
		objs[len(objs)-1] = nil
		return objs[:len(objs)-1], true
	}
	return objs, false
}

// FindContinuity returns the detached object of type typ whose predicted
// despawn tick is within tolerance of despawnTick. Earliest sequence wins.
func FindContinuity(objs []*model.TrackedObject, typ model.TypeID, despawnTick, tolerance int, live func(model.Handle) bool) (*model.TrackedObject, bool) {
	var best *model.TrackedObject
	for _, o := range objs {
		if o.TypeID != typ {
			continue
		}
		if o.Live.Valid() && live != nil && live(o.Live) {
			continue
		}
		if model.AbsInt(o.PredictedDespawnTick()-despawnTick) > tolerance {
			continue
		}
		if best == nil || o.Seq < best.Seq {
			best = o
		}
	}
	return best, best != nil
}

// SortedExpired returns detached objects whose predicted despawn tick is more
// than tolerance ticks in the past, ordered by sequence.
func SortedExpired(objs []*model.TrackedObject, nowTick, tolerance int, live func(model.Handle) bool) []*model.TrackedObject {
	out := make([]*model.TrackedObject, 0)
	for _, o := range objs {
		if o.Live.Valid() && live != nil && live(o.Live) {
			continue
		}
		if nowTick-o.PredictedDespawnTick() > tolerance {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
