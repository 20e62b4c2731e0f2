package client

// Status is the connection state of a Manager.
//
//	disconnected -> connecting -> connected
//	connected -> reconnecting -> connected
//	connecting | reconnecting -> disconnected (retry budget exhausted or authentication rejected)
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StatusChange is delivered to OnStatus callbacks. Err explains a transition to disconnected
// or reconnecting when one is known.
type StatusChange struct {
	Status Status
	Err    error
}
