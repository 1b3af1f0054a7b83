// Package conntable tracks the connections of one engine, keyed by the
// identifier each was registered under with the multiplexer.
package conntable

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/cyberinferno/go-jsonlnet/connection"
	"github.com/cyberinferno/go-jsonlnet/idgenerator"
	"github.com/cyberinferno/go-jsonlnet/netpoll"
)

// Table owns every Connection it holds. Identifiers come from a monotonic
// generator and are never handed out twice, so a readiness event that arrives
// after its connection was removed can be recognised as stale instead of being
// routed to a newer connection. It is not safe for concurrent use.
type Table struct {
	conns map[netpoll.SocketID]*connection.Connection
	ids   *idgenerator.IdGenerator[netpoll.SocketID]
}

// New creates an empty table issuing identifiers from first.
//
// Parameters:
//   - first: The first identifier to allocate
//   - limit: Exclusive upper bound on identifiers; 0 means unbounded
//
// Returns:
//   - A new Table, or an error if the range is empty
func New(first, limit netpoll.SocketID) (*Table, error) {
	ids, err := idgenerator.NewIdGenerator(first, limit)
	if err != nil {
		return nil, fmt.Errorf("connection table: %w", err)
	}

	return &Table{
		conns: make(map[netpoll.SocketID]*connection.Connection),
		ids:   ids,
	}, nil
}

// AcceptInto allocates a fresh identifier, wraps sock in an Open connection
// registered for read interest and stores it.
//
// Parameters:
//   - reg: The multiplexer registry
//   - sock: An accepted, non-blocking socket
//   - opts: Buffering options for the new connection
//
// Returns:
//   - The identifier of the new connection
//   - idgenerator.ErrExhausted or a registration error; the socket is left
//     open for the caller in both cases
func (t *Table) AcceptInto(reg netpoll.Registry, sock connection.Socket, opts connection.Options) (netpoll.SocketID, error) {
	id, err := t.ids.Next()
	if err != nil {
		return 0, err
	}

	c, err := connection.NewOpen(reg, id, sock, opts)
	if err != nil {
		return 0, err
	}

	t.conns[id] = c
	return id, nil
}

// Get returns the connection registered under id.
func (t *Table) Get(id netpoll.SocketID) (*connection.Connection, bool) {
	c, ok := t.conns[id]
	return c, ok
}

// Remove closes the connection under id, deregistering its socket, and drops
// it together with its buffers. Removing an absent id is a no-op.
func (t *Table) Remove(reg netpoll.Registry, id netpoll.SocketID) error {
	c, ok := t.conns[id]
	if !ok {
		return nil
	}

	delete(t.conns, id)
	return c.Close(reg)
}

// IsStale reports whether id was issued by this table but is no longer
// tracked.
func (t *Table) IsStale(id netpoll.SocketID) bool {
	_, ok := t.conns[id]
	return !ok && t.ids.Issued(id)
}

// InRange reports whether id belongs to the table's identifier range.
func (t *Table) InRange(id netpoll.SocketID) bool {
	return t.ids.InRange(id)
}

// Len returns the number of tracked connections.
func (t *Table) Len() int {
	return len(t.conns)
}

// IDs returns the identifiers of all tracked connections in ascending order.
func (t *Table) IDs() []netpoll.SocketID {
	return slices.Sorted(maps.Keys(t.conns))
}

// CloseAll closes and removes every tracked connection.
//
// Returns:
//   - The joined close errors, if any
func (t *Table) CloseAll(reg netpoll.Registry) error {
	var errs []error
	for _, id := range t.IDs() {
		if err := t.Remove(reg, id); err != nil {
			errs = append(errs, fmt.Errorf("close connection %d: %w", id, err))
		}
	}

	return errors.Join(errs...)
}
