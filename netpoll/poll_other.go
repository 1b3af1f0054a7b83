//go:build !linux

package netpoll

import "errors"

// Open is only implemented on Linux.
func Open() (Poller, error) {
	return nil, errors.ErrUnsupported
}
