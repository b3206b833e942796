package session

import (
	"fmt"
	"reflect"

	"cluetracker.ai/internal/sim/tracking/engine"
)

// Replay applies one journal entry and checks that it produces the stats
// recorded with it.
func (s *Session) Replay(e JournalEntry) error {
	switch e.Kind {
	case EntryStart:
		if err := s.eng.Restore(e.Records); err != nil {
			return fmt.Errorf("seq %d: restore: %w", e.Seq, err)
		}
		s.inv.Reset()
		return nil
	case EntryMsg:
		if _, err := s.Apply(e.Msg); err != nil {
			return fmt.Errorf("seq %d: %w", e.Seq, err)
		}
		if e.Stats == nil {
			return nil
		}
		if s.lastStats == nil {
			return fmt.Errorf("seq %d: tick %d was not closed on replay", e.Seq, e.Stats.Tick)
		}
		if !reflect.DeepEqual(*s.lastStats, *e.Stats) {
			return fmt.Errorf("seq %d: stats mismatch at tick %d: got=%+v want=%+v", e.Seq, e.Stats.Tick, *s.lastStats, *e.Stats)
		}
		return nil
	default:
		return fmt.Errorf("seq %d: unknown entry kind %q", e.Seq, e.Kind)
	}
}

// LastStats returns the stats of the tick closed by the last applied
// message, if it closed one.
func (s *Session) LastStats() (stats engine.TickStats, ok bool) {
	if s.lastStats == nil {
		return stats, false
	}
	return *s.lastStats, true
}
