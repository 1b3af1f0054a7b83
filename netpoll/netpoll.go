// Package netpoll defines the narrow readiness-multiplexer boundary used by the
// engines (register, reregister, deregister, poll) and provides an epoll
// backend on Linux.
package netpoll

import (
	"strings"
	"time"
)

// SocketID is the opaque handle that correlates a multiplexer registration
// with the connection that owns the socket.
type SocketID uint64

// Interest is a set of readiness directions. It is used both for the interest
// registered on a socket and for the direction reported by an Event.
type Interest uint8

const (
	// Readable reports or requests read readiness.
	Readable Interest = 1 << iota
	// Writable reports or requests write readiness.
	Writable
)

// IsReadable reports whether the Readable bit is set.
func (i Interest) IsReadable() bool {
	return i&Readable != 0
}

// IsWritable reports whether the Writable bit is set.
func (i Interest) IsWritable() bool {
	return i&Writable != 0
}

// String returns a human-readable form such as "readable|writable".
func (i Interest) String() string {
	var parts []string
	if i.IsReadable() {
		parts = append(parts, "readable")
	}

	if i.IsWritable() {
		parts = append(parts, "writable")
	}

	if len(parts) == 0 {
		return "none"
	}

	return strings.Join(parts, "|")
}

// Event is a single readiness notification.
type Event struct {
	ID  SocketID // Identifier supplied at registration time
	Dir Interest // Directions that became ready
}

// Registry is the part of the multiplexer that connections and engines use to
// manage interest for their sockets.
type Registry interface {
	// Register adds fd to the multiplexer under id with the given interest.
	//
	// Parameters:
	//   - fd: The socket file descriptor
	//   - id: The identifier reported back in events for fd
	//   - interest: The directions to watch
	//
	// Returns:
	//   - An error if the registration failed
	Register(fd int, id SocketID, interest Interest) error

	// Reregister replaces the id and interest recorded for an already
	// registered fd.
	//
	// Parameters:
	//   - fd: The socket file descriptor
	//   - id: The identifier reported back in events for fd
	//   - interest: The directions to watch
	//
	// Returns:
	//   - An error if fd is not registered or the update failed
	Reregister(fd int, id SocketID, interest Interest) error

	// Deregister removes fd from the multiplexer.
	//
	// Parameters:
	//   - fd: The socket file descriptor
	//
	// Returns:
	//   - An error if fd is not registered or removal failed
	Deregister(fd int) error
}

// Poller is a Registry that can also wait for events.
type Poller interface {
	Registry

	// Poll waits up to timeout for readiness events and appends them to buf.
	// A negative timeout blocks until at least one event arrives; zero returns
	// immediately. An interrupted wait returns buf unchanged and no error.
	//
	// Parameters:
	//   - timeout: The maximum time to wait
	//   - buf: Destination slice; its capacity bounds the events returned
	//
	// Returns:
	//   - buf extended with the ready events
	//   - An error if waiting failed
	Poll(timeout time.Duration, buf []Event) ([]Event, error)

	// Close releases the multiplexer.
	Close() error
}
