package engine

import (
	"testing"

	"cluetracker.ai/internal/sim/tracking/model"
	"cluetracker.ai/internal/sim/tracking/observe"
)

const (
	clueType  model.TypeID = 2677
	otherType model.TypeID = 2801
	coinsType model.TypeID = 995
)

type fixture struct {
	t     *testing.T
	scene *observe.Scene
	eng   *Engine
	ref   uint64
	objs  map[uint64]observe.LiveObject
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	scene := observe.NewScene(52)
	eng, err := New(Config{
		TrackedTypes:          []model.TypeID{clueType, otherType},
		DespawnToleranceTicks: 1,
	}, scene)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &fixture{t: t, scene: scene, eng: eng, objs: map[uint64]observe.LiveObject{}}
}

func (f *fixture) at(tick int) { f.scene.SetTick(tick) }

func (f *fixture) spawn(typ model.TypeID, loc model.Coordinate, countdown int) uint64 {
	f.t.Helper()
	f.ref++
	obj := f.scene.Spawn(f.ref, typ, loc, countdown)
	f.objs[f.ref] = obj
	f.eng.OnObjectAppeared(Appeared{Handle: obj.Handle, TypeID: typ, Location: loc, Countdown: countdown})
	f.check()
	return f.ref
}

func (f *fixture) despawn(ref uint64) {
	f.t.Helper()
	obj, ok := f.scene.Despawn(ref)
	if !ok {
		f.t.Fatalf("unknown ref %d", ref)
	}
	f.eng.OnObjectDisappeared(Disappeared{Handle: obj.Handle, TypeID: obj.TypeID, Location: obj.Location, DespawnTick: obj.DespawnTick})
	f.check()
}

func (f *fixture) tick() TickStats {
	f.t.Helper()
	st := f.eng.Tick()
	f.check()
	return st
}

func (f *fixture) check() {
	f.t.Helper()
	if err := f.eng.Check(); err != nil {
		f.t.Fatalf("invariant violated: %v", err)
	}
}

func (f *fixture) only(loc model.Coordinate) *model.TrackedObject {
	f.t.Helper()
	objs := f.eng.TrackedAt(loc)
	if len(objs) != 1 {
		f.t.Fatalf("expected one object at %s, got %d", loc, len(objs))
	}
	return objs[0]
}

type memKV map[string]string

func (m memKV) Get(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memKV) Set(key, value string) error {
	m[key] = value
	return nil
}
