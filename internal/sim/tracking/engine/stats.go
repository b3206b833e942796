package engine

import "cluetracker.ai/internal/sim/tracking/reconcile"

// TickStats counts what happened during one tick. Tick returns it and resets
// the counters.
type TickStats struct {
	Tick int `json:"tick"`

	Reattached   int `json:"reattached,omitempty"`
	PendingDrops int `json:"pending_drops,omitempty"`
	Promoted     int `json:"promoted,omitempty"`
	Despawned    int `json:"despawned,omitempty"`
	Churned      int `json:"churned,omitempty"`
	PickedUp     int `json:"picked_up,omitempty"`
	Unknowns     int `json:"unknowns,omitempty"`
	Cleared      int `json:"cleared,omitempty"`
	Expired      int `json:"expired,omitempty"`

	Shortcut   int `json:"shortcut,omitempty"`
	Degenerate int `json:"degenerate,omitempty"`
	DiffMatch  int `json:"diff_match,omitempty"`

	Tracked int `json:"tracked"`
	Tiles   int `json:"tiles"`
}

func (s *TickStats) countDecision(d reconcile.Decision) {
	switch d {
	case reconcile.DecisionShortcut:
		s.Shortcut++
	case reconcile.DecisionDegenerate:
		s.Degenerate++
	case reconcile.DecisionDiffMatch:
		s.DiffMatch++
	}
}
