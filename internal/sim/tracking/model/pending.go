package model

// PendingDrop is a freshly spawned object waiting to be correlated with an
// object that just left the inventory.
type PendingDrop struct {
	Handle      Handle
	Location    Coordinate
	TypeID      TypeID
	DespawnTick int
	CreatedTick int
	Epoch       uint32
}

// Expired reports whether a full tick has elapsed since the drop was created.
func (p PendingDrop) Expired(nowTick, ttlTicks int) bool {
	return nowTick-p.CreatedTick >= ttlTicks
}

// RemovedCandidate is an object that left the inventory before its ground
// counterpart was observed.
type RemovedCandidate struct {
	Object      *TrackedObject
	CreatedTick int
}

// Confirmation is a ground object presumed picked up, waiting for the
// inventory to claim it.
type Confirmation struct {
	Object      *TrackedObject
	CreatedTick int
}
