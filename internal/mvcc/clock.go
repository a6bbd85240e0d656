// Package mvcc implements MoteDB's multi-version concurrency layer: the
// per-row version chain, the transaction coordinator with delta-snapshot
// savepoints, a minimal row-level lock manager backing Serializable
// validation, and the ARIES-style recovery pass that rebuilds version
// chains from the WAL's single cached scan.
package mvcc

import "sync/atomic"

// Clock is the single monotonic timestamp source shared by start_ts,
// commit_ts, and (via the database facade) the LSM value timestamp used
// for newest-wins merge. The WAL allocates its LSNs from its own counter;
// recovery advances this clock past the highest LSN it replays.
type Clock struct {
	counter atomic.Uint64
}

// NewClock returns a Clock starting at zero.
func NewClock() *Clock { return &Clock{} }

// Next allocates and returns the next timestamp. Never returns 0.
func (c *Clock) Next() uint64 { return c.counter.Add(1) }

// Current returns the most recently allocated timestamp without advancing
// it, for observability (Stats()).
func (c *Clock) Current() uint64 { return c.counter.Load() }

// Observe advances the clock to at least ts, used during recovery to make
// sure post-recovery allocations never collide with timestamps replayed
// from the WAL.
func (c *Clock) Observe(ts uint64) {
	for {
		cur := c.counter.Load()
		if ts <= cur || c.counter.CompareAndSwap(cur, ts) {
			return
		}
	}
}
