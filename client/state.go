package client

// ConnectionState represents the current state of the client's connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // No connection; the next Send connects
	Connecting                          // Connect in progress, sends are queued
	Connected                           // Connected and exchanging frames
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}
