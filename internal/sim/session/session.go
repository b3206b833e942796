// Package session drives one engine from a stream of host messages. A
// session owns its scene, engine and inventory mirror; all of them are only
// touched from the goroutine running Run (or from the caller of Apply when
// driven synchronously, as replay does).
package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"cluetracker.ai/internal/persistence/snapshot"
	"cluetracker.ai/internal/protocol"
	"cluetracker.ai/internal/sim/catalogs"
	"cluetracker.ai/internal/sim/inventory"
	"cluetracker.ai/internal/sim/tracking/engine"
	"cluetracker.ai/internal/sim/tracking/model"
	"cluetracker.ai/internal/sim/tracking/notify"
	"cluetracker.ai/internal/sim/tracking/observe"
	"cluetracker.ai/internal/sim/tuning"
)

// Journal receives one entry per applied message.
type Journal interface {
	WriteEntry(JournalEntry) error
}

// TickIndex receives the stats of every closed tick.
type TickIndex interface {
	WriteTick(sessionID string, st engine.TickStats) error
}

type Config struct {
	ID      string
	Profile string

	Tuning   tuning.Tuning
	Contents catalogs.ContentCatalog

	// Store holds the persisted ground state. Nil disables persistence.
	Store    engine.KV
	StateKey string
	// Initial seeds the ground state when there is no Store.
	Initial []engine.Record

	Journal Journal
	Index   TickIndex
	Logger  *log.Logger
}

type Session struct {
	cfg Config

	scene    *observe.Scene
	eng      *engine.Engine
	inv      *inventory.Tracker
	renotify *notify.Renotifier

	// tick is the open tick; events received now belong to it.
	tick    int
	opened  bool
	seq     uint64
	unsaved int

	lastStats *engine.TickStats

	inbox    chan []byte
	overlayQ chan overlayReq
	stop     chan struct{}
}

var ErrNotStarted = errors.New("session: no tick opened yet")

func New(cfg Config) (*Session, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("session: missing id")
	}
	if cfg.StateKey == "" {
		cfg.StateKey = StateKey(cfg.Profile)
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	scene := observe.NewScene(cfg.Tuning.SceneRadiusTiles)
	eng, err := engine.New(cfg.Tuning.EngineConfig(cfg.Contents.Types), scene)
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:      cfg,
		scene:    scene,
		eng:      eng,
		inv:      inventory.NewTracker(eng),
		renotify: notify.NewRenotifier(cfg.Tuning.RenotifyDelay()),
		inbox:    make(chan []byte, 1024),
		overlayQ: make(chan overlayReq, 16),
		stop:     make(chan struct{}),
	}, nil
}

// StateKey is the store key a profile's ground state lives under.
func StateKey(profile string) string {
	if profile == "" {
		return engine.DefaultStateKey
	}
	return engine.DefaultStateKey + ":" + profile
}

func (s *Session) ID() string                    { return s.cfg.ID }
func (s *Session) Engine() *engine.Engine        { return s.eng }
func (s *Session) Scene() *observe.Scene         { return s.scene }
func (s *Session) Inventory() *inventory.Tracker { return s.inv }
func (s *Session) CurrentTick() int              { return s.tick }

// Opened reports whether a TICK has been applied.
func (s *Session) Opened() bool { return s.opened }

func (s *Session) Inbox() chan<- []byte { return s.inbox }

// Start loads the persisted ground state and journals what was restored, so
// a replay can start from the same point.
func (s *Session) Start() (engine.LoadResult, error) {
	var res engine.LoadResult
	if s.cfg.Store != nil {
		r, err := s.eng.Load(s.cfg.Store, s.cfg.StateKey)
		if err != nil {
			return r, fmt.Errorf("load ground state: %w", err)
		}
		res = r
		if r.Discarded {
			s.logf("discarded unreadable ground state: %v", r.Reason)
		}
	} else if len(s.cfg.Initial) > 0 {
		if err := s.eng.Restore(s.cfg.Initial); err != nil {
			return res, fmt.Errorf("restore initial state: %w", err)
		}
		res.Restored = len(s.cfg.Initial)
	}
	s.journal(JournalEntry{Kind: EntryStart, Profile: s.cfg.Profile, Records: s.eng.Records()})
	return res, nil
}

// Save writes the ground state to the store.
func (s *Session) Save() error {
	if s.cfg.Store == nil {
		return nil
	}
	if err := s.eng.Save(s.cfg.Store, s.cfg.StateKey); err != nil {
		return fmt.Errorf("save ground state: %w", err)
	}
	s.unsaved = 0
	return nil
}

// Close stops the renotification timer and, once a tick has been opened,
// saves the state. A session that never opened leaves the store untouched.
// Run must have returned.
func (s *Session) Close() error {
	s.renotify.Stop()
	if !s.opened {
		return nil
	}
	return s.Save()
}

func (s *Session) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// Welcome is the handshake reply for this session.
func (s *Session) Welcome(restored int) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       s.cfg.ID,
		TrackedTypes:    s.trackedTypes(),
		CatalogDigest:   s.cfg.Contents.Digest,
		Restored:        restored,
	}
}

func (s *Session) logf(format string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf("session %s: "+format, append([]any{s.cfg.ID}, args...)...)
	}
}

// Run applies inbound messages in order until ctx is done or Stop is
// called. Replies are written to out; a full out channel drops the oldest
// pending reply. An error whose code closes the connection ends the loop.
func (s *Session) Run(ctx context.Context, out chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.overlayQ:
			req.resp <- s.Overlay()
		case raw := <-s.inbox:
			replies, err := s.Apply(raw)
			var fatal error
			if err != nil {
				em := errorMsg(err)
				replies = append(replies, em)
				if protocol.ClosesConnection(em.Code) {
					fatal = err
				}
			}
			for _, r := range replies {
				b, err := marshal(r)
				if err != nil {
					s.logf("marshal %T: %v", r, err)
					continue
				}
				sendLatest(out, b)
			}
			if fatal != nil {
				return fatal
			}
		}
	}
}

type overlayReq struct {
	resp chan protocol.OverlayMsg
}

// RequestOverlay asks the running session for a copy of its overlay. Safe to
// call from any goroutine.
func (s *Session) RequestOverlay(ctx context.Context) (protocol.OverlayMsg, error) {
	req := overlayReq{resp: make(chan protocol.OverlayMsg, 1)}
	select {
	case s.overlayQ <- req:
	case <-ctx.Done():
		return protocol.OverlayMsg{}, ctx.Err()
	case <-s.stop:
		return protocol.OverlayMsg{}, errors.New("session stopped")
	}
	select {
	case m := <-req.resp:
		return m, nil
	case <-ctx.Done():
		return protocol.OverlayMsg{}, ctx.Err()
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func coord(p [3]int) model.Coordinate { return model.CoordinateFromArray(p) }

// Snapshot exports the ground state and the inventory mirror.
func (s *Session) Snapshot() snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:   snapshot.Version,
			SessionID: s.cfg.ID,
			Profile:   s.cfg.Profile,
			Tick:      s.tick,
		},
		CatalogDigest: s.cfg.Contents.Digest,
		TrackedTypes:  s.trackedTypes(),
		Objects:       s.eng.Records(),
		Pending:       len(s.eng.PendingDrops()),
	}
	for _, o := range s.inv.Held() {
		h := snapshot.HeldV1{TypeID: int(o.TypeID)}
		for _, id := range o.ContentIDs {
			h.ContentIDs = append(h.ContentIDs, int(id))
		}
		snap.Held = append(snap.Held, h)
	}
	return snap
}

func (s *Session) trackedTypes() []int {
	tracked := s.eng.Config().TrackedTypes
	out := make([]int, 0, len(tracked))
	for _, t := range tracked {
		out = append(out, int(t))
	}
	return out
}
