package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Profile scopes persisted ground state, e.g. one per game account.
	Profile string `json:"profile"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	TrackedTypes    []int  `json:"tracked_types"`
	CatalogDigest   string `json:"catalog_digest"`
	Restored        int    `json:"restored"`
}

// TICK (client -> server): closes the current tick. Events that follow belong
// to Tick+1.
type TickMsg struct {
	Type   string `json:"type"`
	Tick   int    `json:"tick"`
	Player [3]int `json:"player"`
}

// SPAWN (client -> server)
type SpawnMsg struct {
	Type      string `json:"type"`
	Ref       uint64 `json:"ref"`
	TypeID    int    `json:"type_id"`
	Pos       [3]int `json:"pos"`
	Countdown int    `json:"countdown"`
}

// DESPAWN (client -> server)
type DespawnMsg struct {
	Type   string `json:"type"`
	Ref    uint64 `json:"ref"`
	TypeID int    `json:"type_id"`
	Pos    [3]int `json:"pos"`
}

// SCENE_RELOAD / WORLD_RELOAD (client -> server)
type ReloadMsg struct {
	Type string `json:"type"`
}

// INV_ADDED / INV_REMOVED / INV_LEARNED (client -> server)
type InventoryMsg struct {
	Type       string `json:"type"`
	TypeID     int    `json:"type_id"`
	ContentIDs []int  `json:"content_ids,omitempty"`
}

// OVERLAY (server -> client)
type OverlayMsg struct {
	Type    string          `json:"type"`
	Tick    int             `json:"tick"`
	Objects []OverlayObject `json:"objects"`
}

type OverlayObject struct {
	Seq        uint64 `json:"seq"`
	TypeID     int    `json:"type_id"`
	Pos        [3]int `json:"pos"`
	ContentIDs []int  `json:"content_ids"`
	Text       string `json:"text,omitempty"`
	Remaining  int    `json:"remaining_ticks"`
	Live       bool   `json:"live"`
}

// NOTIFY (server -> client)
type NotifyMsg struct {
	Type    string `json:"type"`
	Tick    int    `json:"tick"`
	Message string `json:"message"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
