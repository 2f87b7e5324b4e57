package model

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Key identifies one stored log entry for its whole lifetime.
type Key uint64

// NewKey draws a random key.
func NewKey() Key {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand only fails if the OS entropy source is broken.
		panic(fmt.Sprintf("model: failed to read random key: %v", err))
	}
	return Key(binary.LittleEndian.Uint64(b[:]))
}

// String renders the key as 16 lowercase hex digits.
func (k Key) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid key %q: %w", s, err)
	}
	return Key(v), nil
}

// Watermark is a nanosecond cursor used for incremental tailing.
// An index record is visible to a query when its CreatedAt >= Watermark.
type Watermark int64

// Clock hands out nanosecond timestamps that never go backwards,
// even if the wall clock does.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewClock creates a Clock backed by time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockFunc creates a Clock backed by fn. Used by tests.
func NewClockFunc(fn func() time.Time) *Clock {
	return &Clock{now: fn}
}

// Now returns the next timestamp, strictly greater than any previous one.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UnixNano()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// Peek returns a timestamp that every later Now call is guaranteed to
// reach or exceed.
func (c *Clock) Peek() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UnixNano()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts - 1
	return ts
}
