// Package hlc implements the hybrid-logical clock used to order commits
// within a shard and, loosely, across shards.
//
// An HLC is a {wall, logical} pair. Comparison is lexicographic on
// (wall, logical): a clock that has observed a later wall-clock reading
// always orders after one that hasn't, and ties on wall time are broken by
// the logical counter, giving strict monotonicity within one shard even
// when System clock reads repeat or go backwards.
//
// Grounded on the monotonic-counter idiom in
// other_examples/37fd9e33_SimonWaldherr-tinySQL__internal-storage-mvcc.go.go
// (atomic.Uint64 timestamp source), generalized to the two-field HLC the
// spec requires instead of a flat counter.
package hlc

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp is a single hybrid-logical clock reading.
type Timestamp struct {
	Wall    int64 // nanoseconds since epoch
	Logical uint32
}

// Zero is the smallest possible timestamp; no real commit ever carries it.
var Zero = Timestamp{}

// Before reports whether t happened strictly before o.
func (t Timestamp) Before(o Timestamp) bool {
	return t.Wall < o.Wall || (t.Wall == o.Wall && t.Logical < o.Logical)
}

// After reports whether t happened strictly after o.
func (t Timestamp) After(o Timestamp) bool {
	return o.Before(t)
}

// Equal reports whether t and o are the same reading.
func (t Timestamp) Equal(o Timestamp) bool {
	return t.Wall == o.Wall && t.Logical == o.Logical
}

// Compare returns -1, 0, or 1 as t is before, equal to, or after o.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Before(o):
		return -1
	case o.Before(t):
		return 1
	default:
		return 0
	}
}

// IsZero reports whether t is the zero timestamp.
func (t Timestamp) IsZero() bool {
	return t == Zero
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d", t.Wall, t.Logical)
}

// Clock is a single shard's hybrid-logical clock. It is shared per-shard
// and must be advanced under a lock shared with nothing else.
type Clock struct {
	mu   sync.Mutex
	last Timestamp
	now  func() time.Time // overridable for tests
}

// NewClock returns a clock whose Last reading is the zero Timestamp; the
// first Now call takes the current wall time.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now advances the clock and returns a timestamp strictly greater than any
// previously returned by this clock (the monotonicity I3/HLC-monotonicity
// requires for commits on one shard).
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now().UnixNano()
	if wall > c.last.Wall {
		c.last = Timestamp{Wall: wall, Logical: 0}
	} else {
		c.last = Timestamp{Wall: c.last.Wall, Logical: c.last.Logical + 1}
	}
	return c.last
}

// Update advances the clock so that it is strictly greater than both its
// current reading and a timestamp observed from elsewhere (e.g. a remote
// shard's commit timestamp arriving via a cross-shard reference). This is
// the HLC "receive" rule.
func (c *Clock) Update(received Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now().UnixNano()
	switch {
	case wall > c.last.Wall && wall > received.Wall:
		c.last = Timestamp{Wall: wall, Logical: 0}
	case received.Wall > c.last.Wall:
		c.last = Timestamp{Wall: received.Wall, Logical: received.Logical + 1}
	default:
		logical := c.last.Logical
		if received.Wall == c.last.Wall && received.Logical > logical {
			logical = received.Logical
		}
		c.last = Timestamp{Wall: c.last.Wall, Logical: logical + 1}
	}
	return c.last
}

// Last returns the most recently issued timestamp without advancing the
// clock.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
