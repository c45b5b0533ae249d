// Package wsession provides a self-healing WebSocket session with
// automatic reconnection, message buffering, heartbeats, and connection
// quality tracking.
package wsession

// State is the lifecycle state of a reliable session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateClosing
	StateClosed
)

// String returns the state name for logging and stats.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// terminal reports whether the session can never transition back to
// connected from this state.
func (s State) terminal() bool {
	return s == StateClosing || s == StateClosed
}
