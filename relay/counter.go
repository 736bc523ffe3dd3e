package relay

import "sync/atomic"

// Counter is a monotonically increasing count that reports when it crosses
// a multiple of its group size.
type Counter struct {
	n     atomic.Uint64
	group uint64
}

// NewCounter creates a counter paced by group. A group below 1 is treated as 1.
func NewCounter(group int) *Counter {
	if group < 1 {
		group = 1
	}
	return &Counter{group: uint64(group)}
}

// Inc adds one and reports the new value and whether it landed on a group
// boundary.
func (c *Counter) Inc() (uint64, bool) {
	n := c.n.Add(1)
	return n, n%c.group == 0
}

// Load returns the current value
func (c *Counter) Load() uint64 {
	return c.n.Load()
}
