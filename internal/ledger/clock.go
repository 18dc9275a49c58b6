package ledger

import (
	"sync"
	"time"
)

// Clock is a simulated chain clock implementing domain.Clock. Each block
// advances wall time by a fixed block interval.
type Clock struct {
	mu        sync.RWMutex
	block     uint64
	now       time.Time
	blockTime time.Duration
}

// NewClock creates a Clock starting at block 0 and the given wall time.
func NewClock(start time.Time, blockTime time.Duration) *Clock {
	if blockTime <= 0 {
		blockTime = time.Second
	}
	return &Clock{now: start, blockTime: blockTime}
}

// BlockNumber returns the current block height.
func (c *Clock) BlockNumber() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.block
}

// Now returns the current wall time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance mines n blocks.
func (c *Clock) Advance(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block += n
	c.now = c.now.Add(time.Duration(n) * c.blockTime)
}
