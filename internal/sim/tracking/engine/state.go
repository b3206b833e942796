package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"cluetracker.ai/internal/sim/tracking/model"
)

const (
	DefaultStateKey = "ground_state"
	stateVersion    = 1
)

// KV is the opaque preference store the engine state is kept in.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Record is the persisted form of one ground object. Remaining ticks are
// taken at save time; time spent offline is not accounted for on load.
type Record struct {
	ContentIDs            []model.ContentID `json:"content_ids"`
	TypeID                model.TypeID      `json:"type_id"`
	Location              [3]int            `json:"location"`
	DespawnTicksRemaining int               `json:"despawn_ticks_remaining"`
}

type persistedState struct {
	Version int      `json:"version"`
	Objects []Record `json:"objects"`
}

type LoadResult struct {
	Restored int
	// Discarded is set when the stored state was unreadable and has been
	// replaced with an empty one.
	Discarded bool
	Reason    error
}

var ErrMalformedState = errors.New("malformed ground state")

// Records snapshots every ground object in AllTracked order.
func (e *Engine) Records() []Record {
	now := e.view.CurrentTick()
	objs := e.AllTracked()
	out := make([]Record, 0, len(objs))
	for _, o := range objs {
		despawn := o.PredictedDespawnTick()
		if l, ok := e.view.Resolve(o.Live); ok {
			despawn = l.DespawnTick
		}
		remaining := despawn - now
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, Record{
			ContentIDs:            slices.Clone(o.ContentIDs),
			TypeID:                o.TypeID,
			Location:              o.Location.ToArray(),
			DespawnTicksRemaining: remaining,
		})
	}
	return out
}

// Restore replaces the ground state with recs. Records of types no longer
// tracked are skipped. On error the engine is left empty.
//
// Restored countdowns are anchored at the current tick until Rebaseline
// moves them to the host clock.
func (e *Engine) Restore(recs []Record) error {
	e.Reset()
	now := e.view.CurrentTick()
	for i, r := range recs {
		if r.DespawnTicksRemaining < 0 {
			e.Reset()
			return fmt.Errorf("%w: record %d has negative countdown", ErrMalformedState, i)
		}
		if !e.tracked[r.TypeID] {
			continue
		}
		o := &model.TrackedObject{
			ContentIDs:           slices.Clone(r.ContentIDs),
			TypeID:               r.TypeID,
			DespawnBaselineTicks: r.DespawnTicksRemaining,
			BaselineTick:         now,
			Seq:                  e.seq(),
		}
		o.PlaceAt(model.CoordinateFromArray(r.Location))
		e.index.Add(o)
		e.restored = append(e.restored, o)
	}
	return nil
}

// Rebaseline starts the saved countdowns of restored objects at nowTick.
// Objects already re-observed keep the baseline they were given then.
func (e *Engine) Rebaseline(nowTick int) {
	for _, o := range e.restored {
		if o.OnGround() && o.Epoch == 0 {
			o.BaselineTick = nowTick
		}
	}
	e.restored = nil
}

// EncodeState renders recs in the persisted JSON form.
func EncodeState(recs []Record) (string, error) {
	if recs == nil {
		recs = []Record{}
	}
	b, err := json.Marshal(persistedState{Version: stateVersion, Objects: recs})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeState parses the persisted form. Errors wrap ErrMalformedState.
func DecodeState(s string) ([]Record, error) {
	var st persistedState
	if err := json.Unmarshal([]byte(s), &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if st.Version != stateVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedState, st.Version)
	}
	return st.Objects, nil
}

// Save writes the current ground state under key.
func (e *Engine) Save(kv KV, key string) error {
	s, err := EncodeState(e.Records())
	if err != nil {
		return fmt.Errorf("encode ground state: %w", err)
	}
	return kv.Set(key, s)
}

// Load restores state from kv. Unreadable state is discarded and the store
// is immediately overwritten with an empty snapshot so the failure does not
// repeat. Only store errors are returned.
func (e *Engine) Load(kv KV, key string) (LoadResult, error) {
	raw, ok, err := kv.Get(key)
	if err != nil {
		return LoadResult{}, err
	}
	if !ok || raw == "" {
		e.Reset()
		return LoadResult{}, nil
	}
	recs, err := DecodeState(raw)
	if err == nil {
		err = e.Restore(recs)
	}
	if err != nil {
		e.Reset()
		empty, encErr := EncodeState(nil)
		if encErr != nil {
			return LoadResult{}, encErr
		}
		if setErr := kv.Set(key, empty); setErr != nil {
			return LoadResult{}, setErr
		}
		return LoadResult{Discarded: true, Reason: err}, nil
	}
	return LoadResult{Restored: e.index.Len()}, nil
}
