// Package memsys implements the hierarchical cache/main-memory model behind
// the narrow issue_load/issue_store/take-replies interface the pipelines
// talk to. Tag and LRU bookkeeping for each level is delegated to akita's
// cache directory component; the surrounding multi-cycle
// idle/stall/miss/write-through/stall-parent state machine, which that
// directory does not model, is this package's own per-cycle logic.
package memsys

import akitacache "github.com/sarchlab/akita/v4/mem/cache"

// ReqKind names one of the four request kinds a cache level may see: a
// front-level read/write from a pipeline, or a fetch_read/fetch_write an
// inner level receives from a child on a miss.
type ReqKind string

const (
	Read       ReqKind = "read"
	Write      ReqKind = "write"
	FetchRead  ReqKind = "fetch_read"
	FetchWrite ReqKind = "fetch_write"
)

// PlacementType selects how a level's lines map to sets: direct-mapped, or
// set-associative with LRU replacement.
type PlacementType string

const (
	DirectMap PlacementType = "direct_map"
	SetAssoc  PlacementType = "set_assoc"
)

// Placement is one level's set/associativity configuration.
type Placement struct {
	Type        PlacementType
	SetSize     int
	Replacement string // only "LRU" is supported
}

// WritePolicy selects how a level propagates a write to its parent.
type WritePolicy string

const (
	WriteBack    WritePolicy = "write_back"
	WriteThrough WritePolicy = "write_through"
)

// Inclusion selects whether an inner level keeps a copy of everything its
// children hold (inclusive) or not (exclusive, in which case a hit evicts
// the line from this level once serviced).
type Inclusion string

const (
	Inclusive Inclusion = "inclusive"
	Exclusive Inclusion = "exclusive"
)

// LevelKind names the cache's role, as read from the config:
// a unified cache, a dedicated data cache, or a dedicated instruction cache.
// The three behave identically at this layer — the distinction only affects
// which pipelines' MemPort a caller wires to which named level.
type LevelKind string

const (
	Unified LevelKind = "unified"
	DCache  LevelKind = "dcache"
	ICache  LevelKind = "icache"
)

// Latencies maps a ReqKind name to its hit latency in cycles.
type Latencies map[ReqKind]int

// LevelDesc describes one cache level and, recursively, its children.
type LevelDesc struct {
	Name        string
	Kind        LevelKind
	LineBits    int // line_size, in bits
	SizeBytes   uint64
	Placement   Placement
	WritePolicy WritePolicy
	Inclusion   Inclusion
	Latencies   Latencies
	// StoreForwardLatency is the extra cycles a load pays when it must
	// forward data from the most recent store to the same line instead of
	// reading it as a plain hit. 0 disables the model. Only meaningful on
	// front (leaf) levels.
	StoreForwardLatency int
	Levels              []LevelDesc
}

// Desc describes a whole memory system: main memory's latencies, and the
// ordered list of top-level cache levels hanging off it.
type Desc struct {
	Latencies Latencies
	Levels    []LevelDesc
}

// MemPort is the interface a front cache level (or, with no caches
// configured, main memory directly) exposes to a pipeline.
type MemPort interface {
	IssueLoad(tag any, addr uint64)
	IssueStore(tag any, addr uint64)
	TakeLoadReplies(tag any) []uint64
	TakeStoreReplies(tag any) []uint64
}

// request is one pending access sitting in an element's own inbound
// queue.
type request struct {
	kind      ReqKind
	requester any
	addr      uint64
}

// reply is a completed access waiting to be collected by the requester
// that issued it; reply queues are keyed by requester identity.
type reply struct {
	kind ReqKind
	addr uint64
}

type stateKind uint8

const (
	stIdle stateKind = iota
	stStall
	stMiss
	stWriteThrough
	stStallParent
)

type cacheState struct {
	kind  stateKind
	delay int
	req   request

	// victim is the line reserved by evictFor/findVictim while a miss is
	// outstanding, committed once the fetch/write-back completes.
	victim *akitacache.Block
}

// link is what a cache level needs from whatever serves requests it
// forwards upward: somewhere to enqueue a request, and somewhere to collect
// the one reply it is waiting on.
type link interface {
	enqueue(r request)
	popReplyFor(requester any) (reply, bool)
}

// element is the uniform tick/tock surface every memory-system node
// implements.
type element interface {
	tick()
	tock()
}

// base holds the inbound-request queue and the per-requester reply queues
// shared by every level, plus its current state-machine node.
type base struct {
	reqs    []request
	replies map[any][]reply
	state   *cacheState
}

func newBase() base {
	return base{replies: map[any][]reply{}}
}

func (b *base) enqueue(r request) { b.reqs = append(b.reqs, r) }

func (b *base) popFrontReq() (request, bool) {
	if len(b.reqs) == 0 {
		return request{}, false
	}
	r := b.reqs[0]
	b.reqs = b.reqs[1:]
	return r, true
}

func (b *base) pushReply(requester any, r reply) {
	b.replies[requester] = append(b.replies[requester], r)
}

// popReplyFor returns (and removes) the oldest reply addressed to
// requester. At most one stall-parent request is outstanding per requester,
// so this is always the reply for it.
func (b *base) popReplyFor(requester any) (reply, bool) {
	q := b.replies[requester]
	if len(q) == 0 {
		return reply{}, false
	}
	r := q[0]
	if len(q) == 1 {
		delete(b.replies, requester)
	} else {
		b.replies[requester] = q[1:]
	}
	return r, true
}

// takeReplies drains every queued reply of kind addressed to requester,
// preserving the relative order of whatever is left behind.
func (b *base) takeReplies(requester any, kind ReqKind) []uint64 {
	q := b.replies[requester]
	if len(q) == 0 {
		return nil
	}
	var res []uint64
	kept := q[:0:0]
	for _, r := range q {
		if r.kind == kind {
			res = append(res, r.addr)
		} else {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(b.replies, requester)
	} else {
		b.replies[requester] = kept
	}
	return res
}

func (l Latencies) of(kind ReqKind) int {
	return l[kind]
}
