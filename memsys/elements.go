package memsys

import akitacache "github.com/sarchlab/akita/v4/mem/cache"

func fetchKindFor(k ReqKind) ReqKind {
	if k == Write {
		return FetchWrite
	}
	return FetchRead
}

// frontCache is a leaf level (no children of its own): it is the one
// pipelines issue loads and stores against directly.
type frontCache struct {
	base
	name        string
	parent      link
	store       *lineStore
	writePolicy WritePolicy
	lat         Latencies

	// Store-buffer tracking for store-to-load forwarding: a load that hits
	// the line of the most recent store must forward the data from the
	// store buffer, which costs storeForwardLat extra cycles over a plain
	// hit.
	storeForwardLat  int
	recentStoreLine  uint64
	recentStoreValid bool
}

func newFrontCache(name string, d LevelDesc, parent link) *frontCache {
	return &frontCache{
		base:            newBase(),
		name:            name,
		parent:          parent,
		store:           newLineStore(d.SizeBytes, d.LineBits, associativity(d.Placement)),
		writePolicy:     d.WritePolicy,
		lat:             d.Latencies,
		storeForwardLat: d.StoreForwardLatency,
	}
}

// noteStore records the line of the most recent store so a following load
// to the same line pays the forwarding penalty.
func (c *frontCache) noteStore(addr uint64) {
	if c.storeForwardLat > 0 {
		c.recentStoreLine = c.store.blockAddr(addr)
		c.recentStoreValid = true
	}
}

// forwardPenalty returns the extra cycles a load to addr pays to forward
// from the most recent store, consuming the forwarding event.
func (c *frontCache) forwardPenalty(addr uint64) int {
	if c.recentStoreValid && c.recentStoreLine == c.store.blockAddr(addr) {
		c.recentStoreValid = false
		return c.storeForwardLat
	}
	return 0
}

func associativity(p Placement) int {
	if p.Type == SetAssoc {
		return p.SetSize
	}
	return 1
}

func (c *frontCache) IssueLoad(tag any, addr uint64)  { c.enqueue(request{kind: Read, requester: tag, addr: addr}) }
func (c *frontCache) IssueStore(tag any, addr uint64) { c.enqueue(request{kind: Write, requester: tag, addr: addr}) }
func (c *frontCache) TakeLoadReplies(tag any) []uint64  { return c.takeReplies(tag, Read) }
func (c *frontCache) TakeStoreReplies(tag any) []uint64 { return c.takeReplies(tag, Write) }

func (c *frontCache) tick() {
	if c.state == nil {
		return
	}
	switch c.state.kind {
	case stStall:
		if c.state.delay > 0 {
			c.state.delay--
			return
		}
		c.pushReply(c.state.req.requester, reply{kind: c.state.req.kind, addr: c.state.req.addr})
		c.state = nil

	case stMiss:
		req := c.state.req
		victim, wbAddr, hasWB := c.store.evictFor(req.addr)
		if hasWB {
			c.parent.enqueue(request{kind: Write, requester: c, addr: wbAddr})
		}
		c.parent.enqueue(request{kind: fetchKindFor(req.kind), requester: c, addr: req.addr})
		c.state = &cacheState{kind: stStallParent, req: req, victim: victim}

	case stWriteThrough:
		req := c.state.req
		c.parent.enqueue(request{kind: Write, requester: c, addr: req.addr})
		c.state = &cacheState{kind: stStallParent, req: req, victim: c.state.victim}
	}
}

func (c *frontCache) tock() {
	if c.state == nil {
		if req, ok := c.popFrontReq(); ok {
			setDirty := req.kind == Write && c.writePolicy == WriteBack
			if c.store.tryAccess(req.addr, setDirty) {
				if req.kind == Write {
					c.noteStore(req.addr)
				}
				if req.kind == Write && c.writePolicy == WriteThrough {
					c.state = &cacheState{kind: stWriteThrough, req: req}
				} else {
					delay := c.lat.of(req.kind) - 1
					if req.kind == Read {
						delay += c.forwardPenalty(req.addr)
					}
					c.state = &cacheState{kind: stStall, delay: delay, req: req}
				}
			} else {
				c.state = &cacheState{kind: stMiss, req: req}
			}
		}
	}

	if c.state != nil && c.state.kind == stStallParent {
		if r, ok := c.parent.popReplyFor(c); ok {
			switch r.kind {
			case Write:
				if c.writePolicy == WriteThrough {
					c.state = &cacheState{kind: stStall, delay: c.lat.of(c.state.req.kind) - 1, req: c.state.req}
				}
			case FetchRead, FetchWrite:
				req := c.state.req
				dirty := req.kind == Write && c.writePolicy == WriteBack
				c.store.commitInsert(c.state.victim, req.addr, dirty)
				if req.kind == Write {
					c.noteStore(req.addr)
				}
				if req.kind == Write && c.writePolicy == WriteThrough {
					c.state = &cacheState{kind: stWriteThrough, req: req}
				} else {
					c.state = &cacheState{kind: stStall, delay: c.lat.of(req.kind) - 1, req: req}
				}
			}
		}
	}
}

// innerCache is a non-leaf level: it only ever sees fetch_read/fetch_write
// from a front/inner child on a miss, or write from a child evicting a
// dirty line or forwarding a write-through store.
type innerCache struct {
	base
	name        string
	parent      link
	store       *lineStore
	writePolicy WritePolicy
	inclusion   Inclusion
	lat         Latencies
}

func newInnerCache(name string, d LevelDesc, parent link) *innerCache {
	return &innerCache{
		base:        newBase(),
		name:        name,
		parent:      parent,
		store:       newLineStore(d.SizeBytes, d.LineBits, associativity(d.Placement)),
		writePolicy: d.WritePolicy,
		inclusion:   d.Inclusion,
		lat:         d.Latencies,
	}
}

func (c *innerCache) tick() {
	if c.state == nil {
		return
	}
	switch c.state.kind {
	case stStall:
		if c.state.delay > 0 {
			c.state.delay--
			return
		}
		c.pushReply(c.state.req.requester, reply{kind: c.state.req.kind, addr: c.state.req.addr})
		c.state = nil

	case stMiss:
		req := c.state.req
		switch req.kind {
		case FetchRead, FetchWrite:
			var victim *akitacache.Block
			if c.inclusion == Inclusive {
				v, wbAddr, hasWB := c.store.evictFor(req.addr)
				victim = v
				if hasWB {
					c.parent.enqueue(request{kind: Write, requester: c, addr: wbAddr})
				}
			}
			c.parent.enqueue(request{kind: req.kind, requester: c, addr: req.addr})
			c.state = &cacheState{kind: stStallParent, req: req, victim: victim}

		case Write:
			victim, wbAddr, hasWB := c.store.evictFor(req.addr)
			if hasWB {
				c.parent.enqueue(request{kind: Write, requester: c, addr: wbAddr})
			}
			c.parent.enqueue(request{kind: FetchWrite, requester: c, addr: req.addr})
			c.state = &cacheState{kind: stStallParent, req: req, victim: victim}
		}

	case stWriteThrough:
		req := c.state.req
		c.parent.enqueue(request{kind: Write, requester: c, addr: req.addr})
		c.state = &cacheState{kind: stStallParent, req: req, victim: c.state.victim}
	}
}

func (c *innerCache) tock() {
	if c.state == nil {
		if req, ok := c.popFrontReq(); ok {
			switch req.kind {
			case FetchRead, FetchWrite:
				if c.store.tryAccess(req.addr, false) {
					if c.inclusion == Exclusive {
						c.store.take(req.addr)
					}
					c.state = &cacheState{kind: stStall, delay: c.lat.of(req.kind) - 1, req: req}
				} else {
					c.state = &cacheState{kind: stMiss, req: req}
				}
			case Write:
				if c.store.tryAccess(req.addr, c.writePolicy == WriteBack) {
					if c.writePolicy == WriteThrough {
						c.state = &cacheState{kind: stWriteThrough, req: req}
					} else {
						c.state = &cacheState{kind: stStall, delay: c.lat.of(req.kind) - 1, req: req}
					}
				} else {
					c.state = &cacheState{kind: stMiss, req: req}
				}
			}
		}
	}

	if c.state != nil && c.state.kind == stStallParent {
		if r, ok := c.parent.popReplyFor(c); ok {
			switch r.kind {
			case Write:
				if c.writePolicy == WriteThrough {
					c.state = &cacheState{kind: stStall, delay: c.lat.of(c.state.req.kind) - 1, req: c.state.req}
				}
			case FetchRead, FetchWrite:
				req := c.state.req
				dirty := req.kind == Write && c.writePolicy == WriteBack
				victim := c.state.victim
				if victim == nil {
					victim = c.store.findVictim(req.addr)
				}
				c.store.commitInsert(victim, req.addr, dirty)
				if req.kind == Write && c.writePolicy == WriteThrough {
					c.state = &cacheState{kind: stWriteThrough, req: req}
				} else {
					c.state = &cacheState{kind: stStall, delay: c.lat.of(req.kind) - 1, req: req}
				}
			}
		}
	}
}

// mainMemory is the root of the tree: it has no parent and no line store
// of its own, servicing every request kind with a flat latency.
type mainMemory struct {
	base
	lat Latencies
}

func newMainMemory(lat Latencies) *mainMemory {
	return &mainMemory{base: newBase(), lat: lat}
}

func (m *mainMemory) IssueLoad(tag any, addr uint64)  { m.enqueue(request{kind: Read, requester: tag, addr: addr}) }
func (m *mainMemory) IssueStore(tag any, addr uint64) { m.enqueue(request{kind: Write, requester: tag, addr: addr}) }
func (m *mainMemory) TakeLoadReplies(tag any) []uint64  { return m.takeReplies(tag, Read) }
func (m *mainMemory) TakeStoreReplies(tag any) []uint64 { return m.takeReplies(tag, Write) }

func (m *mainMemory) tick() {
	if m.state == nil || m.state.kind != stStall {
		return
	}
	if m.state.delay > 0 {
		m.state.delay--
		return
	}
	m.pushReply(m.state.req.requester, reply{kind: m.state.req.kind, addr: m.state.req.addr})
	m.state = nil
}

func (m *mainMemory) tock() {
	if m.state != nil {
		return
	}
	req, ok := m.popFrontReq()
	if !ok {
		return
	}
	m.state = &cacheState{kind: stStall, delay: m.lat.of(req.kind) - 1, req: req}
}
