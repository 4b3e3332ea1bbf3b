// Package replay implements the per-source monotonic sequence filter
// that guards model events against stale/duplicate delivery.
package replay

import "sync"

// Cache maps a source unicast address to the largest sequence number
// accepted from it so far. The Event Parser is documented as the sole
// writer, but Cache still takes its own lock: the Provisioning Engine
// also clears entries when allocating a reused address, off the Event
// Bus worker.
type Cache struct {
	mu    sync.Mutex
	seqOf map[uint16]uint32
}

// New returns an empty replay cache.
func New() *Cache {
	return &Cache{seqOf: make(map[uint16]uint32)}
}

// Check reports whether seq is acceptable for source addr: strictly
// greater than the last recorded value, or no value recorded yet. On
// acceptance it records seq as the new high-water mark.
func (c *Cache) Check(addr uint16, seq uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.seqOf[addr]
	if ok && seq <= last {
		return false
	}
	c.seqOf[addr] = seq
	return true
}

// Remove drops the recorded sequence for addr, called on node reset and
// on re-provisioning of a reused address.
func (c *Cache) Remove(addr uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seqOf, addr)
}
