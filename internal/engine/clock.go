package engine

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Clock hands out request sequence numbers.
//
// Request ids are "r<N>" with N from this clock; ids are never reused, so
// a resubmission after removal always gets a new id.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// NextRequestID returns a fresh request id.
func (c *Clock) NextRequestID() string {
	return fmt.Sprintf("r%d", c.Next())
}

// WallClock supplies timestamps for request ages and cache entries.
// Implemented by SystemClock and testutil.FakeClock.
type WallClock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
