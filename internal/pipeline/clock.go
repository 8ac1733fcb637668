package pipeline

import "sync/atomic"

// passClock is a monotonic logical clock numbering processing passes.
//
// Outcomes carry the pass number so logs and tests can order passes
// without relying on wall time.
type passClock struct {
	seq atomic.Int64
}

// Next returns the next pass number, starting at 1.
func (c *passClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued pass number without incrementing.
func (c *passClock) Current() int64 {
	return c.seq.Load()
}
