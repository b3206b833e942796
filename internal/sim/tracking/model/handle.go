package model

import "fmt"

// Handle refers to a world object instance visible in the current scene.
// Gen is never 0 for an issued handle, so the zero Handle means "no handle".
// A handle from an older scene generation is stale; the observation layer
// decides that, holders only compare and forward it.
type Handle struct {
	Index uint32
	Gen   uint32
}

func (h Handle) Valid() bool { return h.Gen != 0 }

func (h Handle) String() string {
	if !h.Valid() {
		return "-"
	}
	return fmt.Sprintf("%d#%d", h.Index, h.Gen)
}
