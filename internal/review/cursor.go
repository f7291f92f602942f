// Package review tracks the ply a client is looking at while a game keeps
// advancing underneath it.
package review

import "sync"

// Cursor holds plyIndex in [0, total] and the count of plies that arrived
// while the viewer was not at the live ply.
type Cursor struct {
	mu      sync.Mutex
	ply     int
	pending int
}

func New() *Cursor { return &Cursor{} }

func clamp(i, total int) int {
	if total < 0 {
		total = 0
	}
	if i < 0 {
		return 0
	}
	if i > total {
		return total
	}
	return i
}

// SetPlyIndex moves the cursor, clamped into [0, total].
func (c *Cursor) SetPlyIndex(i, total int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ply = clamp(i, total)
	return c.ply
}

// GoLive jumps to the live ply and clears the live counter.
func (c *Cursor) GoLive(total int) {
	c.mu.Lock()
	c.ply = clamp(total, total)
	c.pending = 0
	c.mu.Unlock()
}

// NoteLiveIncoming counts one newly arrived ply.
func (c *Cursor) NoteLiveIncoming() {
	c.mu.Lock()
	c.pending++
	c.mu.Unlock()
}

// ClearLiveCounter zeroes the counter without moving the cursor.
func (c *Cursor) ClearLiveCounter() {
	c.mu.Lock()
	c.pending = 0
	c.mu.Unlock()
}

// EnterReview pulls a cursor that sits past total back to total and starts a
// fresh review with no pending count.
func (c *Cursor) EnterReview(total int) {
	c.mu.Lock()
	c.ply = clamp(c.ply, total)
	c.pending = 0
	c.mu.Unlock()
}

func (c *Cursor) PlyIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ply
}

func (c *Cursor) PendingLiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Follow is the ingestion hook: one NoteLiveIncoming per new ply, then the
// cursor tracks live if it was at the old live ply. Shrinking history clamps.
func (c *Cursor) Follow(prevTotal, total int) {
	if total < prevTotal {
		c.SetPlyIndex(c.PlyIndex(), total)
		return
	}
	wasLive := c.PlyIndex() >= prevTotal
	for i := prevTotal; i < total; i++ {
		c.NoteLiveIncoming()
	}
	if wasLive {
		c.GoLive(total)
	}
}
