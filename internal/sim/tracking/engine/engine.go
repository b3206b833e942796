// Package engine resolves which tracked content each ground object carries.
//
// An Engine is owned by one host session and is not safe for concurrent use.
// Per tick the host feeds appear/disappear and inventory events, then calls
// Tick once to reconcile flagged tiles and run cleanup.
package engine

import (
	"fmt"
	"sort"

	"cluetracker.ai/internal/sim/tracking/ground"
	"cluetracker.ai/internal/sim/tracking/model"
	"cluetracker.ai/internal/sim/tracking/observe"
)

const (
	DefaultDespawnToleranceTicks   = 1
	DefaultMaxContentLifetimeTicks = 300
)

type Config struct {
	TrackedTypes []model.TypeID

	// DespawnToleranceTicks absorbs the one tick skew between the host's
	// countdown and ours. Zero selects DefaultDespawnToleranceTicks.
	DespawnToleranceTicks int
	// FreshDropCountdownTicks is the countdown at or above which a spawn is
	// treated as a just-dropped object. A drop can be reported up to the
	// tolerance below the full lifetime.
	FreshDropCountdownTicks int

	ZoneSizeTiles       int
	VisibleZoneDistance int
	ChurnZoneDistance   int

	PendingTTLTicks int
}

func (c Config) withDefaults() Config {
	if c.DespawnToleranceTicks <= 0 {
		c.DespawnToleranceTicks = DefaultDespawnToleranceTicks
	}
	if c.FreshDropCountdownTicks <= 0 {
		c.FreshDropCountdownTicks = DefaultMaxContentLifetimeTicks - c.DespawnToleranceTicks
	}
	if c.ZoneSizeTiles <= 0 {
		c.ZoneSizeTiles = model.DefaultZoneSize
	}
	if c.VisibleZoneDistance <= 0 {
		c.VisibleZoneDistance = 5
	}
	if c.ChurnZoneDistance <= 0 {
		c.ChurnZoneDistance = 6
	}
	if c.PendingTTLTicks <= 0 {
		c.PendingTTLTicks = 1
	}
	return c
}

type Engine struct {
	cfg     Config
	view    observe.View
	tracked map[model.TypeID]bool

	index   *ground.Index
	pending []model.PendingDrop
	removed []model.RemovedCandidate
	confirm []model.Confirmation
	dirty   map[model.Coordinate]bool

	prevZone model.Zone
	havePrev bool

	// restored holds objects loaded from persisted state whose baselines
	// still wait for the host clock.
	restored []*model.TrackedObject

	nextSeq uint64
	stats   TickStats
}

// New returns an empty engine reading live objects from view. Unset config
// fields take their defaults.
func New(cfg Config, view observe.View) (*Engine, error) {
	if view == nil {
		return nil, fmt.Errorf("engine: nil view")
	}
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		view:    view,
		tracked: make(map[model.TypeID]bool, len(cfg.TrackedTypes)),
		index:   ground.New(),
		dirty:   map[model.Coordinate]bool{},
	}
	for _, t := range cfg.TrackedTypes {
		e.tracked[t] = true
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Tracks(t model.TypeID) bool { return e.tracked[t] }

// Reset drops all state. Called on world reload, before the next tick's
// events are processed.
func (e *Engine) Reset() {
	e.index.Reset()
	e.pending = nil
	e.removed = nil
	e.confirm = nil
	e.dirty = map[model.Coordinate]bool{}
	e.havePrev = false
	e.restored = nil
	e.stats = TickStats{}
}

// TrackedAt returns copies of the objects on tile c, in bucket order.
func (e *Engine) TrackedAt(c model.Coordinate) []*model.TrackedObject {
	return cloneAll(e.index.At(c))
}

// AllTracked returns copies of every ground object ordered by sequence, then
// predicted despawn tick.
func (e *Engine) AllTracked() []*model.TrackedObject {
	out := cloneAll(e.index.All())
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].PredictedDespawnTick() < out[j].PredictedDespawnTick()
	})
	return out
}

func (e *Engine) TrackedLocations() []model.Coordinate { return e.index.Locations() }

// PendingDrops returns the drops still waiting for an inventory match.
func (e *Engine) PendingDrops() []model.PendingDrop {
	out := make([]model.PendingDrop, len(e.pending))
	copy(out, e.pending)
	return out
}

// Check verifies the ownership invariants: every ground object sits in
// exactly one bucket and nothing in transit to the inventory has a location.
func (e *Engine) Check() error {
	if err := e.index.Check(); err != nil {
		return err
	}
	onGround := map[*model.TrackedObject]bool{}
	for _, o := range e.index.All() {
		onGround[o] = true
	}
	for _, c := range e.confirm {
		if c.Object.Location != nil {
			return fmt.Errorf("confirmation seq=%d still has a location", c.Object.Seq)
		}
		if onGround[c.Object] {
			return fmt.Errorf("confirmation seq=%d still in ground index", c.Object.Seq)
		}
	}
	for _, r := range e.removed {
		if r.Object.Location != nil || onGround[r.Object] {
			return fmt.Errorf("removed candidate seq=%d is on the ground", r.Object.Seq)
		}
	}
	return nil
}

func (e *Engine) seq() uint64 {
	e.nextSeq++
	return e.nextSeq
}

func (e *Engine) isLive(h model.Handle) bool {
	_, ok := e.view.Resolve(h)
	return ok
}

func (e *Engine) zoneOf(c model.Coordinate) model.Zone {
	return model.ZoneOf(c, e.cfg.ZoneSizeTiles)
}

func (e *Engine) attach(o *model.TrackedObject, h model.Handle, despawnTick, nowTick int) {
	o.Live = h
	o.Rebase(despawnTick, nowTick, e.view.Epoch())
}

func (e *Engine) newUnknown(l observe.LiveObject, nowTick int) *model.TrackedObject {
	o := &model.TrackedObject{TypeID: l.TypeID, Seq: e.seq()}
	o.PlaceAt(l.Location)
	e.attach(o, l.Handle, l.DespawnTick, nowTick)
	return o
}

func cloneAll(objs []*model.TrackedObject) []*model.TrackedObject {
	out := make([]*model.TrackedObject, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Clone())
	}
	return out
}
