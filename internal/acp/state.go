package acp

// State is the session lifecycle state of a Runtime.
type State int

const (
	// StateIdle means no process and no session. Initial state, and
	// the landing state after any full reset.
	StateIdle State = iota
	// StateStarting means a spawn plus protocol handshake is in flight.
	StateStarting
	// StateReady means a session is established with no prompt in flight.
	StateReady
	// StatePrompting means exactly one prompt is in flight.
	StatePrompting
	// StateError means the handshake or process failed; the next
	// ensureSession or prewarm attempts recovery.
	StateError
	// StateShuttingDown means teardown is in progress; no new
	// operations are accepted.
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StatePrompting:
		return "prompting"
	case StateError:
		return "error"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// validNext enumerates the legal state transitions. An unexpected
// process exit may force any non-idle state back to idle, and shutdown
// is reachable from everywhere.
var validNext = map[State][]State{
	StateIdle:         {StateStarting, StateShuttingDown},
	StateStarting:     {StateReady, StateError, StateIdle, StateShuttingDown},
	StateReady:        {StatePrompting, StateError, StateIdle, StateShuttingDown},
	StatePrompting:    {StateReady, StateError, StateIdle, StateShuttingDown},
	StateError:        {StateStarting, StateIdle, StateShuttingDown},
	StateShuttingDown: {StateIdle},
}

func (s State) canTransition(to State) bool {
	for _, n := range validNext[s] {
		if n == to {
			return true
		}
	}
	return false
}
