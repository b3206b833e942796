package session

import (
	"encoding/json"

	"cluetracker.ai/internal/sim/tracking/engine"
)

type EntryKind string

const (
	// EntryStart carries the ground state the session started from.
	EntryStart EntryKind = "start"
	// EntryMsg carries one applied host message. A TICK entry also carries
	// the stats of the tick it closed.
	EntryMsg EntryKind = "msg"
)

// JournalEntry is one line of the session journal. Replaying the entries of
// a session through Apply reproduces the same stats.
type JournalEntry struct {
	Session string    `json:"session"`
	Seq     uint64    `json:"seq"`
	Kind    EntryKind `json:"kind"`
	Tick    int       `json:"tick"`

	Profile string          `json:"profile,omitempty"`
	Records []engine.Record `json:"records,omitempty"`

	Msg   json.RawMessage   `json:"msg,omitempty"`
	Stats *engine.TickStats `json:"stats,omitempty"`
}

func (s *Session) journal(e JournalEntry) {
	if s.cfg.Journal == nil {
		return
	}
	s.seq++
	e.Session = s.cfg.ID
	e.Seq = s.seq
	if e.Tick == 0 {
		e.Tick = s.tick
	}
	if err := s.cfg.Journal.WriteEntry(e); err != nil {
		s.logf("journal: %v", err)
	}
}
