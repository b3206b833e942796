package session

import (
	"encoding/json"
	"fmt"

	"cluetracker.ai/internal/protocol"
	"cluetracker.ai/internal/sim/tracking/engine"
	"cluetracker.ai/internal/sim/tracking/model"
)

// Error is a message rejection that is reported to the host.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func badRequest(format string, args ...any) error {
	return &Error{Code: protocol.ErrProtoBadRequest, Message: fmt.Sprintf(format, args...)}
}

func errorMsg(err error) protocol.ErrorMsg {
	code := protocol.ErrInternal
	if e, ok := err.(*Error); ok {
		code = e.Code
	}
	return protocol.NewError(code, "%s", err.Error())
}

func marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Apply processes one host message and returns the replies to send back.
// Messages are applied strictly in arrival order.
func (s *Session) Apply(raw []byte) ([]any, error) {
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return nil, badRequest("bad json: %v", err)
	}
	if base.Type != protocol.TypeTick && !s.opened {
		return nil, &Error{Code: protocol.ErrStale, Message: ErrNotStarted.Error()}
	}

	s.lastStats = nil
	var (
		replies []any
		stats   *engine.TickStats
	)
	switch base.Type {
	case protocol.TypeTick:
		var m protocol.TickMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, badRequest("bad TICK: %v", err)
		}
		st, out, err := s.onTick(m)
		if err != nil {
			return nil, err
		}
		stats, replies = st, out

	case protocol.TypeSpawn:
		var m protocol.SpawnMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, badRequest("bad SPAWN: %v", err)
		}
		if m.Ref == 0 {
			return nil, badRequest("SPAWN: missing ref")
		}
		if m.Countdown < 0 {
			return nil, badRequest("SPAWN: negative countdown")
		}
		s.despawn(m.Ref)
		typ := model.TypeID(m.TypeID)
		loc := coord(m.Pos)
		obj := s.scene.Spawn(m.Ref, typ, loc, m.Countdown)
		s.eng.OnObjectAppeared(engine.Appeared{Handle: obj.Handle, TypeID: typ, Location: loc, Countdown: m.Countdown})

	case protocol.TypeDespawn:
		var m protocol.DespawnMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, badRequest("bad DESPAWN: %v", err)
		}
		// Unknown refs were spawned before this session saw the scene.
		s.despawn(m.Ref)

	case protocol.TypeSceneReload:
		s.scene.Reload()

	case protocol.TypeWorldReload:
		s.scene.Reload()
		s.eng.Reset()
		s.inv.Reset()

	case protocol.TypeInvAdded, protocol.TypeInvRemoved, protocol.TypeInvLearned:
		var m protocol.InventoryMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, badRequest("bad %s: %v", base.Type, err)
		}
		s.onInventory(base.Type, m)

	default:
		return nil, badRequest("unknown message type %q", base.Type)
	}

	s.lastStats = stats
	s.journal(JournalEntry{Kind: EntryMsg, Msg: json.RawMessage(raw), Stats: stats})
	return replies, nil
}

func (s *Session) despawn(ref uint64) {
	obj, ok := s.scene.Despawn(ref)
	if !ok {
		return
	}
	s.eng.OnObjectDisappeared(engine.Disappeared{
		Handle:      obj.Handle,
		TypeID:      obj.TypeID,
		Location:    obj.Location,
		DespawnTick: obj.DespawnTick,
	})
}

// onTick closes the open tick, if any, and opens m.Tick. Events received
// after it belong to the new tick.
func (s *Session) onTick(m protocol.TickMsg) (*engine.TickStats, []any, error) {
	if s.opened && m.Tick <= s.tick {
		return nil, nil, &Error{Code: protocol.ErrStale, Message: fmt.Sprintf("tick %d after %d", m.Tick, s.tick)}
	}

	var (
		stats   *engine.TickStats
		replies []any
	)
	if s.opened {
		st := s.eng.Tick()
		stats = &st
		s.afterTick(st)
		replies = s.tickReplies(st)
	}

	first := !s.opened
	s.tick = m.Tick
	s.opened = true
	s.scene.SetTick(m.Tick)
	s.scene.SetPlayer(coord(m.Player))
	if first {
		// Saved countdowns resume on the host clock.
		s.eng.Rebaseline(m.Tick)
	}
	return stats, replies, nil
}

func (s *Session) afterTick(st engine.TickStats) {
	if s.cfg.Index != nil {
		if err := s.cfg.Index.WriteTick(s.cfg.ID, st); err != nil {
			s.logf("index tick %d: %v", st.Tick, err)
		}
	}
	s.unsaved++
	if every := s.cfg.Tuning.SaveEveryTicks; every > 0 && s.unsaved >= every {
		if err := s.Save(); err != nil {
			s.logf("%v", err)
		}
	}
}

func (s *Session) tickReplies(st engine.TickStats) []any {
	var out []any
	if every := s.cfg.Tuning.OverlayEveryTicks; every > 0 && st.Tick%every == 0 {
		out = append(out, s.Overlay())
	}
	if st.Unknowns > 0 && s.renotify.TryNotify() {
		out = append(out, protocol.NotifyMsg{
			Type:    protocol.TypeNotify,
			Tick:    st.Tick,
			Message: fmt.Sprintf("%d unidentified object(s) on the ground; pick them up to read them", st.Unknowns),
		})
	}
	return out
}

func (s *Session) onInventory(kind string, m protocol.InventoryMsg) {
	typ := model.TypeID(m.TypeID)
	if !s.eng.Tracks(typ) {
		return
	}
	ids := make([]model.ContentID, 0, len(m.ContentIDs))
	for _, id := range m.ContentIDs {
		ids = append(ids, model.ContentID(id))
	}

	switch kind {
	case protocol.TypeInvAdded:
		s.inv.Added(typ)
		for _, id := range ids {
			s.inv.Learned(typ, id)
		}
	case protocol.TypeInvLearned:
		for _, id := range ids {
			s.inv.Learned(typ, id)
		}
	case protocol.TypeInvRemoved:
		o, held := s.inv.Removed(typ)
		switch {
		case held && o.Known():
			// Already handed to the engine by the tracker.
		case held && len(ids) > 0:
			o.ContentIDs = ids
			s.eng.NotifyPendingDropCandidate(o)
		case !held && len(ids) > 0:
			s.eng.OnInventoryObjectRemoved(ids, typ)
		}
	}
}
