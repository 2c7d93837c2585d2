// ABOUTME: Connection state machine for the event channel
// ABOUTME: States drive the synchronizer's stale/refetch behavior on transport loss

package client

// ConnectionState represents the current state of the event channel.
type ConnectionState int

const (
	// StateDisconnected means the channel is not connected.
	StateDisconnected ConnectionState = iota

	// StateConnecting means the channel is establishing its first connection.
	StateConnecting

	// StateConnected means the channel is connected and delivering events.
	StateConnected

	// StateReconnecting means the channel lost its connection and is backing
	// off between redial attempts.
	StateReconnecting

	// StateClosed means the channel was explicitly closed and will not redial.
	StateClosed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent represents a connection state change.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Err      error // cause of the change, if any
}
