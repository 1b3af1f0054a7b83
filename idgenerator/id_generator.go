// Package idgenerator allocates monotonically increasing identifiers that are
// never handed out twice for the lifetime of a generator.
package idgenerator

import (
	"errors"
	"fmt"
)

// ErrExhausted is returned by Next once every identifier below the limit has
// been issued.
var ErrExhausted = errors.New("identifier range exhausted")

// IdGenerator issues identifiers first, first+1, ... up to (but excluding) an
// optional limit. It is not safe for concurrent use; the engines that own one
// are driven from a single goroutine.
type IdGenerator[T ~uint64] struct {
	first T
	next  T
	limit T
	done  bool
}

// NewIdGenerator creates an IdGenerator whose first Next returns first.
//
// Parameters:
//   - first: The first identifier to issue
//   - limit: Exclusive upper bound; 0 means unbounded
//
// Returns:
//   - A new IdGenerator, or an error if limit is non-zero and not above first
func NewIdGenerator[T ~uint64](first, limit T) (*IdGenerator[T], error) {
	if limit != 0 && limit <= first {
		return nil, fmt.Errorf("empty identifier range [%d, %d)", first, limit)
	}

	return &IdGenerator[T]{first: first, next: first, limit: limit}, nil
}

// Next returns the next unused identifier.
//
// Returns:
//   - The identifier
//   - ErrExhausted when the range has been used up
func (g *IdGenerator[T]) Next() (T, error) {
	if g.done || (g.limit != 0 && g.next >= g.limit) {
		g.done = true
		return 0, ErrExhausted
	}

	id := g.next
	g.next++
	if g.next == 0 {
		// Wrapped past the largest value; never reuse.
		g.done = true
	}

	return id, nil
}

// Issued reports whether id has already been returned by Next.
func (g *IdGenerator[T]) Issued(id T) bool {
	if id < g.first {
		return false
	}

	if g.done && g.next == 0 {
		return true
	}

	return id < g.next
}

// InRange reports whether id falls inside the generator's range, whether or
// not it has been issued yet.
func (g *IdGenerator[T]) InRange(id T) bool {
	return id >= g.first && (g.limit == 0 || id < g.limit)
}
