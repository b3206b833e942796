// Package reconcile decides, for one tile, which currently visible objects
// continue the identity of previously tracked ones.
//
// Absolute despawn ticks are only comparable when the tracked timing was
// observed in the current scene epoch. Across a scene rebuild only the gaps
// between despawn ticks survive, so matching works on relative offsets.
package reconcile

import (
	"fmt"
	"sort"

	"cluetracker.ai/internal/sim/tracking/model"
	"cluetracker.ai/internal/sim/tracking/observe"
)

type Decision int

const (
	// DecisionShortcut pairs a lone tracked object with a lone live object
	// of the same type.
	DecisionShortcut Decision = iota + 1
	// DecisionDegenerate has too little relative signal to correlate.
	DecisionDegenerate
	// DecisionDiffMatch pairs objects whose despawn gaps agree.
	DecisionDiffMatch
)

func (d Decision) String() string {
	switch d {
	case DecisionShortcut:
		return "SHORTCUT"
	case DecisionDegenerate:
		return "DEGENERATE"
	case DecisionDiffMatch:
		return "DIFF_MATCH"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

type Pair struct {
	Tracked *model.TrackedObject
	Live    observe.LiveObject
}

// Result accounts for every live object handed to Plan: each one is either
// in Pairs or in Unmatched, never both.
type Result struct {
	Decision  Decision
	Pairs     []Pair
	Unmatched []observe.LiveObject
}

// Accounted reports whether the result covers exactly n live objects.
func (r Result) Accounted(n int) bool {
	return len(r.Pairs)+len(r.Unmatched) == n
}

// Decide picks the matching policy for a tile. tracked holds the tile's
// detached objects and live the tile's unclaimed live objects.
func Decide(tracked []*model.TrackedObject, live []observe.LiveObject, epoch uint32) Decision {
	if len(tracked) == 1 && len(live) == 1 &&
		tracked[0].TypeID == live[0].TypeID && notAfter(live[0], tracked[0], epoch) {
		return DecisionShortcut
	}
	if len(tracked) <= 1 || len(live) <= 1 {
		return DecisionDegenerate
	}
	return DecisionDiffMatch
}

// Plan pairs the tile's detached objects with its unclaimed live objects
// and reports the live objects left over.
func Plan(tracked []*model.TrackedObject, live []observe.LiveObject, epoch uint32) Result {
	r := Result{Decision: Decide(tracked, live, epoch)}
	switch r.Decision {
	case DecisionShortcut:
		r.Pairs = []Pair{{Tracked: tracked[0], Live: live[0]}}
	case DecisionDegenerate:
		// Nothing can be paired; every live object becomes unknown.
	case DecisionDiffMatch:
		r.Pairs = diffMatch(tracked, live, epoch)
	default:
		panic(fmt.Sprintf("reconcile: unhandled decision %v", r.Decision))
	}
	r.Unmatched = unmatched(live, r.Pairs)
	return r
}

// notAfter reports whether l may be the continuation of o: a live object can
// never outlive the prediction made in the same frame.
func notAfter(l observe.LiveObject, o *model.TrackedObject, epoch uint32) bool {
	if o.Epoch != epoch {
		return true
	}
	return l.DespawnTick <= o.PredictedDespawnTick()
}

func diffMatch(tracked []*model.TrackedObject, live []observe.LiveObject, epoch uint32) []Pair {
	ts := make([]*model.TrackedObject, len(tracked))
	copy(ts, tracked)
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i].PredictedDespawnTick(), ts[j].PredictedDespawnTick()
		if a != b {
			return a < b
		}
		return ts[i].Seq < ts[j].Seq
	})
	ls := make([]observe.LiveObject, len(live))
	copy(ls, live)
	sort.SliceStable(ls, func(i, j int) bool {
		if ls[i].DespawnTick != ls[j].DespawnTick {
			return ls[i].DespawnTick < ls[j].DespawnTick
		}
		return ls[i].Handle.Index < ls[j].Handle.Index
	})

	// Live objects outliving the latest prediction cannot be anything tracked.
	last := ts[len(ts)-1]
	if last.Epoch == epoch {
		limit := last.PredictedDespawnTick()
		kept := ls[:0]
		for _, l := range ls {
			if l.DespawnTick <= limit {
				kept = append(kept, l)
			}
		}
		ls = kept
	}

	tByType := map[model.TypeID][]*model.TrackedObject{}
	for _, o := range ts {
		tByType[o.TypeID] = append(tByType[o.TypeID], o)
	}
	lByType := map[model.TypeID][]observe.LiveObject{}
	for _, l := range ls {
		lByType[l.TypeID] = append(lByType[l.TypeID], l)
	}
	types := make([]model.TypeID, 0, len(tByType))
	for typ := range tByType {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var pairs []Pair
	for _, typ := range types {
		pairs = append(pairs, matchGroup(tByType[typ], lByType[typ], epoch)...)
	}
	return pairs
}

// matchGroup walks adjacent tracked pairs and adjacent live pairs of one
// type in lock-step. Within a type, objects leave in drop order, so equal
// gaps identify the same pair of objects.
func matchGroup(ts []*model.TrackedObject, ls []observe.LiveObject, epoch uint32) []Pair {
	if len(ts) < 2 || len(ls) < 2 {
		return nil
	}
	tToL := map[int]int{}
	lToT := map[int]int{}
	from := 0
	for i := 0; i+1 < len(ts); i++ {
		for j := from; j+1 < len(ls); j++ {
			if !pairFits(ts[i], ts[i+1], ls[j], ls[j+1], epoch) {
				continue
			}
			if k, ok := tToL[i]; ok && k != j {
				continue
			}
			if k, ok := lToT[j]; ok && k != i {
				continue
			}
			tToL[i], lToT[j] = j, i
			tToL[i+1], lToT[j+1] = j+1, i+1
			from = j + 1
			break
		}
	}

	idx := make([]int, 0, len(tToL))
	for i := range tToL {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]Pair, 0, len(idx))
	for _, i := range idx {
		out = append(out, Pair{Tracked: ts[i], Live: ls[tToL[i]]})
	}
	return out
}

func pairFits(t0, t1 *model.TrackedObject, l0, l1 observe.LiveObject, epoch uint32) bool {
	if t1.PredictedDespawnTick()-t0.PredictedDespawnTick() != l1.DespawnTick-l0.DespawnTick {
		return false
	}
	return notAfter(l0, t0, epoch) && notAfter(l1, t1, epoch)
}

func unmatched(live []observe.LiveObject, pairs []Pair) []observe.LiveObject {
	used := make(map[model.Handle]bool, len(pairs))
	for _, p := range pairs {
		used[p.Live.Handle] = true
	}
	out := make([]observe.LiveObject, 0, len(live)-len(pairs))
	for _, l := range live {
		if !used[l.Handle] {
			out = append(out, l)
		}
	}
	return out
}
