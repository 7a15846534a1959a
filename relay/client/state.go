package client

// ConnectionState is the lifecycle state of the relay connection of a session
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateOpen
	// StateDegraded means the connection is open but quiet for longer than one keepalive interval
	StateDegraded
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateDegraded:
		return "Degraded"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// IsConnected reports whether frames can be sent in this state
func (s ConnectionState) IsConnected() bool {
	return s == StateOpen || s == StateDegraded
}
