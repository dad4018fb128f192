package broker

// ConnState is the connection lifecycle of a broker-mediated endpoint.
// Reconnecting is a first-class state rather than a bare retry loop so
// callers and tests can observe it.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateActive
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}
