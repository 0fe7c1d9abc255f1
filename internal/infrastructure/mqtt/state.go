package mqtt

import "time"

// ConnectionState is the transport's position in its connection lifecycle.
//
//	Disconnected -> Connecting -> Connected -> Disconnected
//	Connecting -> Disconnected (connect failure)
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

// String returns the lowercase state name used in logs and the API.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarshalText lets the state appear by name in JSON.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StateChange describes one transition. Err is nil for transitions the
// caller asked for and carries the cause for connect failures and
// unsolicited disconnects.
type StateChange struct {
	From ConnectionState
	To   ConnectionState
	Err  error
	At   time.Time
}

// Unsolicited reports whether the change is a drop the caller did not ask for.
func (sc StateChange) Unsolicited() bool {
	return sc.From == Connected && sc.To == Disconnected && sc.Err != nil
}
