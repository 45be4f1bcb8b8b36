package manager

import "hrlink/internal/catalog"

// StateKind enumerates the connection lifecycle states.
type StateKind int

const (
	StateIdle StateKind = iota
	StateScanning
	StateCandidateFound
	StateConnecting
	StateConnected
	StateDisconnected
)

func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateCandidateFound:
		return "candidate_found"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// State is the manager's lifecycle state. Sensor is meaningful from
// CandidateFound onward; AdaptorID only while Connected. The state is
// owned and mutated exclusively by the link task; consumers observe
// readings, not this.
type State struct {
	Kind      StateKind
	Sensor    catalog.Sensor
	AdaptorID string
}
