package protocol

import "fmt"

// Error codes carried by ERROR messages.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST" // malformed or unknown message
	ErrProtoVersion    = "E_PROTO_VERSION"     // HELLO with another protocol_version
	ErrSessionBusy     = "E_SESSION_BUSY"      // the profile already has a live session
	ErrStale           = "E_STALE"             // event outside an open tick, or a tick going backwards
	ErrInternal        = "E_INTERNAL"
)

// closes maps every known code to whether the server hangs up after sending it.
var closes = map[string]bool{
	ErrProtoBadRequest: false,
	ErrProtoVersion:    true,
	ErrSessionBusy:     true,
	ErrStale:           false,
	ErrInternal:        true,
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := closes[code]
	return ok
}

// ClosesConnection reports whether an ERROR with code ends the connection.
// Message-level rejections leave the session running.
func ClosesConnection(code string) bool { return closes[code] }

func NewError(code, format string, args ...any) ErrorMsg {
	return ErrorMsg{Type: TypeError, Code: code, Message: fmt.Sprintf(format, args...)}
}
