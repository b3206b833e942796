package session

import (
	"cluetracker.ai/internal/protocol"
)

// Overlay describes every ground object for the renderer, in display order.
func (s *Session) Overlay() protocol.OverlayMsg {
	now := s.scene.CurrentTick()
	objs := s.eng.AllTracked()
	out := protocol.OverlayMsg{
		Type:    protocol.TypeOverlay,
		Tick:    now,
		Objects: make([]protocol.OverlayObject, 0, len(objs)),
	}
	for _, o := range objs {
		ids := make([]int, 0, len(o.ContentIDs))
		for _, id := range o.ContentIDs {
			ids = append(ids, int(id))
		}
		ov := protocol.OverlayObject{
			Seq:        o.Seq,
			TypeID:     int(o.TypeID),
			Pos:        o.Location.ToArray(),
			ContentIDs: ids,
			Remaining:  o.RemainingTicks(now),
		}
		if lo, ok := s.scene.Resolve(o.Live); ok {
			ov.Live = true
			ov.Remaining = lo.DespawnTick - now
		}
		if len(ids) > 0 {
			ov.Text = s.cfg.Contents.Describe(o.ContentIDs)
		}
		out.Objects = append(out.Objects, ov)
	}
	return out
}
