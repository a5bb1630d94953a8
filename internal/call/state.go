package call

// State is the lifecycle state of the active call.
type State int

const (
	StateIdle State = iota
	StateDialing
	StateRinging
	StateConnecting
	StateConnected
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// canTransition reports whether from → to is a legal lifecycle move.
// Terminated is absorbing and reachable from every state (hangup, remote
// hangup, transport failure, busy rejection). Connecting may be re-entered
// from Connected after a transient engine disconnect.
func canTransition(from, to State) bool {
	if from == to {
		return false
	}
	if to == StateTerminated {
		return from != StateTerminated
	}
	switch from {
	case StateIdle:
		return to == StateDialing || to == StateRinging
	case StateDialing, StateRinging:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected
	case StateConnected:
		return to == StateConnecting
	default:
		return false
	}
}
