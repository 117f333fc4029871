package session

// TurnState is where a bridge is in its conversation lifecycle
type TurnState int

const (
	StateIdle        TurnState = iota // connected, no upstream yet
	StateActive                       // upstream open, relaying
	StateInterrupted                  // user barged in; stale model output is dropped
	StateClosing                      // teardown in progress
	StateClosed
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateInterrupted:
		return "interrupted"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// started reports whether an upstream session has been opened
func (s TurnState) started() bool {
	return s == StateActive || s == StateInterrupted
}
