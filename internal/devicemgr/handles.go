package devicemgr

import (
	"container/list"

	"ttgw-go/internal/node"
)

const (
	maxDevKeys  = 10
	maxAddresses = 30
)

// devkeyEntry records an in-device devkey handle alongside the unicast
// address it was bound to, so a re-provisioned node's stale handle can
// be found and evicted.
type devkeyEntry struct {
	devkey  [16]byte
	addr    uint16
	handle  uint16
}

// HandleCache mirrors the device's insertion-ordered devkey and
// publication-address handle tables. Eviction is LRU-by-insertion: capacity overflow evicts the
// oldest entry, issuing the matching delete command first.
type HandleCache struct {
	devkeys     *list.List // of *devkeyEntry, front = oldest
	devkeyByKey map[[16]byte]*list.Element
	devkeyByAddr map[uint16]*list.Element

	addrs     *list.List // of *addrEntry, front = oldest
	addrByAddr map[uint16]*list.Element
}

type addrEntry struct {
	addr   uint16
	handle uint16
}

// NewHandleCache returns an empty cache.
func NewHandleCache() *HandleCache {
	return &HandleCache{
		devkeys:      list.New(),
		devkeyByKey:  make(map[[16]byte]*list.Element),
		devkeyByAddr: make(map[uint16]*list.Element),
		addrs:        list.New(),
		addrByAddr:   make(map[uint16]*list.Element),
	}
}

// DevkeyLookup reports the cached handle for n's devkey, if any.
func (c *HandleCache) DevkeyLookup(n *node.Node) (uint16, bool) {
	if el, ok := c.devkeyByKey[n.DevKey]; ok {
		return el.Value.(*devkeyEntry).handle, true
	}
	return 0, false
}

// DevkeyStaleForAddr reports a cached handle bound to n's unicast
// address under a *different* devkey (a re-provisioned node), which
// must be explicitly evicted before the new key is added.
func (c *HandleCache) DevkeyStaleForAddr(n *node.Node) (uint16, bool) {
	if el, ok := c.devkeyByAddr[n.UnicastAddr]; ok {
		return el.Value.(*devkeyEntry).handle, true
	}
	return 0, false
}

// DevkeyEvictOldest returns the oldest entry's handle for eviction when
// the cache is at capacity, without removing it (the caller removes
// after the device confirms the delete).
func (c *HandleCache) DevkeyEvictOldest() (uint16, bool) {
	front := c.devkeys.Front()
	if front == nil {
		return 0, false
	}
	return front.Value.(*devkeyEntry).handle, true
}

// DevkeyAtCapacity reports whether the cache holds maxDevKeys entries.
func (c *HandleCache) DevkeyAtCapacity() bool { return c.devkeys.Len() >= maxDevKeys }

// DevkeyRemove deletes the cached entry with the given handle.
func (c *HandleCache) DevkeyRemove(handle uint16) {
	for el := c.devkeys.Front(); el != nil; el = el.Next() {
		e := el.Value.(*devkeyEntry)
		if e.handle == handle {
			c.devkeys.Remove(el)
			delete(c.devkeyByKey, e.devkey)
			delete(c.devkeyByAddr, e.addr)
			return
		}
	}
}

// DevkeyInsert records a freshly allocated device-key handle.
func (c *HandleCache) DevkeyInsert(n *node.Node, handle uint16) {
	e := &devkeyEntry{devkey: n.DevKey, addr: n.UnicastAddr, handle: handle}
	el := c.devkeys.PushBack(e)
	c.devkeyByKey[n.DevKey] = el
	c.devkeyByAddr[n.UnicastAddr] = el
}

// DevkeyLen reports the number of cached devkey handles.
func (c *HandleCache) DevkeyLen() int { return c.devkeys.Len() }

// AddrLookup reports the cached publication handle for addr, if any.
func (c *HandleCache) AddrLookup(addr uint16) (uint16, bool) {
	if el, ok := c.addrByAddr[addr]; ok {
		return el.Value.(*addrEntry).handle, true
	}
	return 0, false
}

// AddrAtCapacity reports whether the cache holds maxAddresses entries.
func (c *HandleCache) AddrAtCapacity() bool { return c.addrs.Len() >= maxAddresses }

// AddrEvictOldest returns the oldest entry's handle for eviction.
func (c *HandleCache) AddrEvictOldest() (uint16, bool) {
	front := c.addrs.Front()
	if front == nil {
		return 0, false
	}
	return front.Value.(*addrEntry).handle, true
}

// AddrRemoveOldest removes the oldest entry (called after the device
// confirms the delete).
func (c *HandleCache) AddrRemoveOldest() {
	front := c.addrs.Front()
	if front == nil {
		return
	}
	e := front.Value.(*addrEntry)
	c.addrs.Remove(front)
	delete(c.addrByAddr, e.addr)
}

// AddrInsert records a freshly allocated publication-address handle.
func (c *HandleCache) AddrInsert(addr, handle uint16) {
	el := c.addrs.PushBack(&addrEntry{addr: addr, handle: handle})
	c.addrByAddr[addr] = el
}

// AddrLen reports the number of cached address handles.
func (c *HandleCache) AddrLen() int { return c.addrs.Len() }
