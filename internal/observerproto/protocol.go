package observerproto

import (
	"cluetracker.ai/internal/protocol"
	"cluetracker.ai/internal/sim/session"
)

// Version is the observer protocol version (separate from the host WS protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to switch profile or rate.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Profile         string `json:"profile"`
	IntervalMs      int    `json:"interval_ms"`
}

// HTTP response for GET /v1/sessions.
type SessionsResponse struct {
	ProtocolVersion string           `json:"protocol_version"`
	Sessions        []session.Active `json:"sessions"`
}

// HTTP response for GET /v1/tracked. Also streamed over the observer WS.
type TrackedResponse struct {
	ProtocolVersion string              `json:"protocol_version"`
	Profile         string              `json:"profile"`
	SessionID       string              `json:"session_id"`
	Overlay         protocol.OverlayMsg `json:"overlay"`
}

// HTTP response for GET /v1/search.
type SearchResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	Query           string        `json:"query"`
	Results         []SearchMatch `json:"results"`
}

type SearchMatch struct {
	ContentID    int    `json:"content_id"`
	ObjectTypeID int    `json:"object_type_id"`
	Tier         string `json:"tier,omitempty"`
	Text         string `json:"text"`
	Score        int    `json:"score"`
	// OnGround lists where the content currently lies, if anywhere.
	OnGround [][3]int `json:"on_ground,omitempty"`
}
