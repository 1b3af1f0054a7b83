package connection

// State is the lifecycle state of a Connection.
type State int

const (
	Connecting State = iota // Outbound connect in progress (client only)
	Open                    // Reading and writing frames
	Closing                 // Final best-effort flush before Closed
	Closed                  // Terminal; socket released
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Open:
		return "Open"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}
