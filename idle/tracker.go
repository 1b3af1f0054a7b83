// Package idle tracks the last activity of peers so that callers can close
// connections that have gone quiet. The engines own no timers; the serve
// loop consults a Tracker between polls.
package idle

import (
	"strconv"
	"time"

	"github.com/cyberinferno/go-jsonlnet/netpoll"
	"github.com/patrickmn/go-cache"
)

// Tracker remembers when each peer was last active. Entries expire after the
// idle timeout; expiry is checked lazily, so no janitor goroutine runs. It is
// not safe for concurrent use together with the engine it serves.
type Tracker struct {
	timeout time.Duration
	last    *cache.Cache
	seen    map[netpoll.SocketID]struct{}
}

// NewTracker creates a Tracker that reports peers idle for longer than
// timeout.
//
// Parameters:
//   - timeout: The idle period after which a peer is reported
//
// Returns:
//   - A new Tracker
func NewTracker(timeout time.Duration) *Tracker {
	return &Tracker{
		timeout: timeout,
		last:    cache.New(timeout, 0),
		seen:    make(map[netpoll.SocketID]struct{}),
	}
}

// Timeout returns the idle period.
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

// Touch records activity for id now.
func (t *Tracker) Touch(id netpoll.SocketID) {
	t.seen[id] = struct{}{}
	t.last.Set(key(id), time.Now(), cache.DefaultExpiration)
}

// Forget stops tracking id.
func (t *Tracker) Forget(id netpoll.SocketID) {
	delete(t.seen, id)
	t.last.Delete(key(id))
}

// lastActive returns when id was last touched, if its entry has not expired.
func (t *Tracker) lastActive(id netpoll.SocketID) (time.Time, bool) {
	v, ok := t.last.Get(key(id))
	if !ok {
		return time.Time{}, false
	}

	return v.(time.Time), true
}

// Len returns the number of tracked peers.
func (t *Tracker) Len() int {
	return len(t.seen)
}

// Expired returns the members of live that have been idle longer than the
// timeout. Members seen for the first time start their idle period now, and
// tracked peers missing from live are forgotten.
//
// Parameters:
//   - live: The identifiers of the currently connected peers
//
// Returns:
//   - The idle identifiers, in the order they appear in live
func (t *Tracker) Expired(live []netpoll.SocketID) []netpoll.SocketID {
	present := make(map[netpoll.SocketID]struct{}, len(live))
	var expired []netpoll.SocketID

	for _, id := range live {
		present[id] = struct{}{}
		if _, ok := t.seen[id]; !ok {
			t.Touch(id)
			continue
		}

		if _, ok := t.last.Get(key(id)); !ok {
			expired = append(expired, id)
		}
	}

	for id := range t.seen {
		if _, ok := present[id]; !ok {
			t.Forget(id)
		}
	}

	return expired
}

func key(id netpoll.SocketID) string {
	return strconv.FormatUint(uint64(id), 10)
}
